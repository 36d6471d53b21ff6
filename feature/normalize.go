package feature

import (
	"fmt"

	"github.com/rushteam/alignkit/tensor"
)

// ImageNet 统计量，DaveNet 图像塔与 Places205 分类器都使用它做标准化。
var (
	ImageNetMean = []float64{0.485, 0.456, 0.406}
	ImageNetStd  = []float64{0.229, 0.224, 0.225}
)

// ZScoreNormalizer 按通道做 Z-score 标准化
// 公式: z = (x - μ[c]) / σ[c]
type ZScoreNormalizer struct {
	Mean []float64 // 每个通道的均值
	Std  []float64 // 每个通道的标准差
}

// NewZScoreNormalizer 创建 Z-score 标准化器
func NewZScoreNormalizer(mean, std []float64) *ZScoreNormalizer {
	return &ZScoreNormalizer{
		Mean: mean,
		Std:  std,
	}
}

// NormalizeValue 标准化通道 c 上的单个值；std 为 0 时原样返回
func (n *ZScoreNormalizer) NormalizeValue(c int, value float64) float64 {
	if std := n.Std[c]; std > 0 {
		return (value - n.Mean[c]) / std
	}
	return value
}

// Normalize 原地标准化 (C, H, W) 张量
func (n *ZScoreNormalizer) Normalize(t *tensor.Tensor) error {
	if t.NDim() != 3 || t.Dim(0) != len(n.Mean) || len(n.Mean) != len(n.Std) {
		return fmt.Errorf("normalize: %d-channel statistics for tensor %s", len(n.Mean), tensor.FormatShape(t.Shape()))
	}
	plane := t.Dim(1) * t.Dim(2)
	data := t.Data()
	for c := range n.Mean {
		ch := data[c*plane : (c+1)*plane]
		for i, v := range ch {
			ch[i] = float32(n.NormalizeValue(c, float64(v)))
		}
	}
	return nil
}
