package core

import "fmt"

// Shape3 是图像嵌入的 (D, H, W) 形状。
type Shape3 struct {
	D, H, W int
}

func (s Shape3) String() string { return fmt.Sprintf("(%d, %d, %d)", s.D, s.H, s.W) }

// Heatmap 是音频时间步与图像空间位置两两之间的相似度，按 (T, H, W) 行优先存放。
//
//	Data[t*H*W + h*W + w] = audio[:, t] · image[:, h, w]
type Heatmap struct {
	T, H, W int
	Data    []float64
}

// At 返回 (t, h, w) 处的相似度。
func (m *Heatmap) At(t, h, w int) float64 { return m.Data[(t*m.H+h)*m.W+w] }

// Shape 返回 (T, H, W)。
func (m *Heatmap) Shape() [3]int { return [3]int{m.T, m.H, m.W} }

// Frame 返回第 t 个时间步的 H*W 切片（共享底层数据）。
func (m *Heatmap) Frame(t int) []float64 {
	n := m.H * m.W
	return m.Data[t*n : (t+1)*n]
}

// MatchMask 与 Heatmap 同形状：相似度 >= 阈值的位置为 0（匹配），其余为 1。
type MatchMask struct {
	T, H, W int
	Data    []uint8
}

// Matches 返回匹配（值为 0）的位置数。
func (m *MatchMask) Matches() int {
	n := 0
	for _, v := range m.Data {
		if v == 0 {
			n++
		}
	}
	return n
}

// AlignmentScore 是由热力图导出的三个聚合统计量。
type AlignmentScore struct {
	// SISA 是全部位置的平均相似度
	SISA float64 `json:"sisa"`
	// MISA 是每个时间步取空间最大值后对时间求平均
	MISA float64 `json:"misa"`
	// SIMA 是每个空间位置取时间最大值后对空间求平均
	SIMA float64 `json:"sima"`
}

// AlignmentResult 是一次对齐打分的完整输出。
type AlignmentResult struct {
	Heatmap    *Heatmap       `json:"-"`
	Mask       *MatchMask     `json:"-"`
	Score      AlignmentScore `json:"score"`
	ImageShape Shape3         `json:"image_shape"`
	Threshold  float64        `json:"threshold"`
}

// ClassifyResult 是场景分类输出；Missing 为 true 表示没有骨干，Logits 为空。
type ClassifyResult struct {
	Variant    string    `json:"variant"`
	Logits     []float32 `json:"-"`
	ClassIndex int       `json:"class_index"`
	Label      string    `json:"label,omitempty"`
	Missing    bool      `json:"missing,omitempty"`
}
