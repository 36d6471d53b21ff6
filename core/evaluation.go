package core

import (
	"image"

	"github.com/rushteam/alignkit/pkg/utils"
	"github.com/rushteam/alignkit/tensor"
)

// Sample 是数据集中的一条（图像，口语描述）样本。
type Sample struct {
	ID      string
	Speaker string
	Text    string // ASR 转写，仅用于展示

	Image image.Image
	// Mel 是 (mel, T) 的对数梅尔谱
	Mel *tensor.Tensor
	// Frames 是补齐/截断前的原始帧数
	Frames int
}

// Evaluation 是评估链路中的统一承载结构：样本、两个打分器的结果、标签。
// Labels 用于解释与过滤；Err 记录该样本失败的原因，不中断整个评估。
type Evaluation struct {
	Sample    *Sample
	Alignment *AlignmentResult
	Scene     *ClassifyResult
	Meta      map[string]any
	Labels    map[string]utils.Label
	Dropped   bool
	Err       error
}

func NewEvaluation(s *Sample) *Evaluation {
	return &Evaluation{
		Sample: s,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// ID 返回样本 ID。
func (e *Evaluation) ID() string {
	if e.Sample == nil {
		return ""
	}
	return e.Sample.ID
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (e *Evaluation) PutLabel(key string, lbl utils.Label) {
	if e.Labels == nil {
		e.Labels = make(map[string]utils.Label)
	}
	if old, ok := e.Labels[key]; ok {
		e.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	e.Labels[key] = lbl
}

// GetLabel 获取 Label。
func (e *Evaluation) GetLabel(key string) (utils.Label, bool) {
	lbl, ok := e.Labels[key]
	return lbl, ok
}
