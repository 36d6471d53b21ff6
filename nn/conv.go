package nn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/rushteam/alignkit/tensor"
)

// im2colBudget 限制单次展开矩阵的元素数，超过时按输出位置分块计算。
var im2colBudget = 1 << 22

// Conv2d 是二维卷积（groups=1，dilation=1），通过 im2col + GEMM 实现。
type Conv2d struct {
	stateless

	InChannels, OutChannels int
	KernelH, KernelW        int
	StrideH, StrideW        int
	PadH, PadW              int

	Weight *tensor.Tensor // (out, in, kh, kw)
	Bias   *tensor.Tensor // (out)，可为 nil
}

// ConvOption 配置 Conv2d 的步长和填充。
type ConvOption func(*Conv2d)

// WithStride 设置步长。
func WithStride(h, w int) ConvOption {
	return func(c *Conv2d) { c.StrideH, c.StrideW = h, w }
}

// WithPadding 设置零填充。
func WithPadding(h, w int) ConvOption {
	return func(c *Conv2d) { c.PadH, c.PadW = h, w }
}

// WithoutBias 去掉偏置。
func WithoutBias() ConvOption {
	return func(c *Conv2d) { c.Bias = nil }
}

// NewConv2d 创建卷积层，参数初始化为 0，等待加载预训练权重。
func NewConv2d(in, out, kh, kw int, opts ...ConvOption) *Conv2d {
	c := &Conv2d{
		InChannels:  in,
		OutChannels: out,
		KernelH:     kh,
		KernelW:     kw,
		StrideH:     1,
		StrideW:     1,
		Weight:      tensor.New(out, in, kh, kw),
		Bias:        tensor.New(out),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conv2d) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	visit(prefix+"weight", c.Weight)
	if c.Bias != nil {
		visit(prefix+"bias", c.Bias)
	}
}

// OutputSize 计算输出的空间尺寸。
func (c *Conv2d) OutputSize(h, w int) (int, int) {
	oh := (h+2*c.PadH-c.KernelH)/c.StrideH + 1
	ow := (w+2*c.PadW-c.KernelW)/c.StrideW + 1
	return oh, ow
}

func (c *Conv2d) Forward(s *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expect4D("conv2d", x); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	if ch != c.InChannels {
		return nil, fmt.Errorf("conv2d: expected %d input channels, got %d", c.InChannels, ch)
	}
	oh, ow := c.OutputSize(h, w)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d: input %dx%d too small for kernel %dx%d", h, w, c.KernelH, c.KernelW)
	}

	k := c.InChannels * c.KernelH * c.KernelW
	spatial := oh * ow
	chunk := im2colBudget / k
	if chunk < 1 {
		chunk = 1
	}
	if chunk > spatial {
		chunk = spatial
	}

	out := tensor.New(n, c.OutChannels, oh, ow)
	col := make([]float32, k*chunk)
	weight := blas32.General{Rows: c.OutChannels, Cols: k, Stride: k, Data: c.Weight.Data()}
	in := x.Data()
	dst := out.Data()

	for b := 0; b < n; b++ {
		img := in[b*ch*h*w : (b+1)*ch*h*w]
		res := dst[b*c.OutChannels*spatial : (b+1)*c.OutChannels*spatial]
		for start := 0; start < spatial; start += chunk {
			cols := min(chunk, spatial-start)
			c.im2col(img, h, w, ow, start, cols, col)
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
				weight,
				blas32.General{Rows: k, Cols: cols, Stride: cols, Data: col[:k*cols]},
				0,
				blas32.General{Rows: c.OutChannels, Cols: cols, Stride: spatial, Data: res[start:]},
			)
		}
		if c.Bias != nil {
			bias := c.Bias.Data()
			for o := 0; o < c.OutChannels; o++ {
				row := res[o*spatial : (o+1)*spatial]
				for i := range row {
					row[i] += bias[o]
				}
			}
		}
	}
	return out, nil
}

// im2col 把输出位置 [start, start+cols) 对应的感受野展开成 (k, cols) 矩阵。
func (c *Conv2d) im2col(img []float32, h, w, ow, start, cols int, col []float32) {
	row := 0
	for ci := 0; ci < c.InChannels; ci++ {
		plane := img[ci*h*w : (ci+1)*h*w]
		for ky := 0; ky < c.KernelH; ky++ {
			for kx := 0; kx < c.KernelW; kx++ {
				dst := col[row*cols : (row+1)*cols]
				for j := 0; j < cols; j++ {
					pos := start + j
					iy := (pos/ow)*c.StrideH - c.PadH + ky
					ix := (pos%ow)*c.StrideW - c.PadW + kx
					if iy < 0 || iy >= h || ix < 0 || ix >= w {
						dst[j] = 0
						continue
					}
					dst[j] = plane[iy*w+ix]
				}
				row++
			}
		}
	}
}
