package scorer

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/tensor"
)

// ComputeHeatmap 计算 audioᵀ × image 并还原为 (T, H, W)。
//
// audio 为 (D, T)，image 为 (D, H·W)，shape 给出图像嵌入的 (D, H, W)。
// 两侧 D 不一致或 image 列数与 H·W 不符时返回 DIMENSION_MISMATCH。
func ComputeHeatmap(audio, image *tensor.Tensor, shape core.Shape3) (*core.Heatmap, error) {
	if audio.NDim() != 2 || image.NDim() != 2 {
		return nil, core.NewDimensionMismatchError(core.ModuleScorer,
			"audio %s and image %s embeddings must be 2-D", tensor.FormatShape(audio.Shape()), tensor.FormatShape(image.Shape()))
	}
	d, t := audio.Dim(0), audio.Dim(1)
	if image.Dim(0) != d {
		return nil, core.NewDimensionMismatchError(core.ModuleScorer,
			"audio embedding dim %d != image embedding dim %d", d, image.Dim(0))
	}
	hw := shape.H * shape.W
	if image.Dim(1) != hw || (shape.D != 0 && shape.D != d) {
		return nil, core.NewDimensionMismatchError(core.ModuleScorer,
			"image embedding %s does not match shape %s", tensor.FormatShape(image.Shape()), shape)
	}
	if t == 0 || hw == 0 {
		return &core.Heatmap{T: t, H: shape.H, W: shape.W}, nil
	}

	a := mat.NewDense(d, t, audio.Float64())
	b := mat.NewDense(d, hw, image.Float64())
	data := make([]float64, t*hw)
	out := mat.NewDense(t, hw, data)
	out.Mul(a.T(), b)
	return &core.Heatmap{T: t, H: shape.H, W: shape.W, Data: data}, nil
}

// ComputeMatchMask 生成与热力图同形状的掩码：值 >= threshold 的位置为 0，其余为 1。
func ComputeMatchMask(h *core.Heatmap, threshold float64) *core.MatchMask {
	m := &core.MatchMask{T: h.T, H: h.H, W: h.W, Data: make([]uint8, len(h.Data))}
	for i, v := range h.Data {
		if v < threshold {
			m.Data[i] = 1
		}
	}
	return m
}

// ComputeScores 计算 SISA、MISA、SIMA。空热力图返回零值。
func ComputeScores(h *core.Heatmap) core.AlignmentScore {
	hw := h.H * h.W
	if h.T == 0 || hw == 0 {
		return core.AlignmentScore{}
	}

	var misa float64
	for t := 0; t < h.T; t++ {
		misa += floats.Max(h.Frame(t))
	}

	best := append([]float64(nil), h.Frame(0)...)
	for t := 1; t < h.T; t++ {
		for i, v := range h.Frame(t) {
			if v > best[i] {
				best[i] = v
			}
		}
	}

	return core.AlignmentScore{
		SISA: floats.Sum(h.Data) / float64(len(h.Data)),
		MISA: misa / float64(h.T),
		SIMA: floats.Sum(best) / float64(hw),
	}
}
