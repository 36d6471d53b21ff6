package nn

import (
	"fmt"
	"math"

	"github.com/rushteam/alignkit/tensor"
)

// MaxPool2d 是二维最大池化，支持 ceil_mode（Caffe 导出的 GoogLeNet 需要）。
type MaxPool2d struct {
	stateless
	KernelH, KernelW int
	StrideH, StrideW int
	PadH, PadW       int
	CeilMode         bool
}

// NewMaxPool2d 创建方形核的最大池化。
func NewMaxPool2d(kernel, stride, pad int) *MaxPool2d {
	return &MaxPool2d{KernelH: kernel, KernelW: kernel, StrideH: stride, StrideW: stride, PadH: pad, PadW: pad}
}

// poolOutSize 与 PyTorch 的池化输出尺寸公式一致。
func poolOutSize(in, k, s, p int, ceil bool) int {
	num := in + 2*p - k
	var out int
	if ceil {
		out = (num+s-1)/s + 1
		// 最后一个窗口必须从输入或左侧填充内开始
		if (out-1)*s >= in+p {
			out--
		}
	} else {
		out = num/s + 1
	}
	return out
}

func (m *MaxPool2d) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expect4D("maxpool2d", x); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	oh := poolOutSize(h, m.KernelH, m.StrideH, m.PadH, m.CeilMode)
	ow := poolOutSize(w, m.KernelW, m.StrideW, m.PadW, m.CeilMode)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("maxpool2d: input %dx%d too small", h, w)
	}

	out := tensor.New(n, ch, oh, ow)
	src, dst := x.Data(), out.Data()
	for p := 0; p < n*ch; p++ {
		plane := src[p*h*w : (p+1)*h*w]
		res := dst[p*oh*ow : (p+1)*oh*ow]
		for oy := 0; oy < oh; oy++ {
			y0 := oy*m.StrideH - m.PadH
			for ox := 0; ox < ow; ox++ {
				x0 := ox*m.StrideW - m.PadW
				best := float32(math.Inf(-1))
				for ky := max(y0, 0); ky < min(y0+m.KernelH, h); ky++ {
					for kx := max(x0, 0); kx < min(x0+m.KernelW, w); kx++ {
						if v := plane[ky*w+kx]; v > best {
							best = v
						}
					}
				}
				res[oy*ow+ox] = best
			}
		}
	}
	return out, nil
}

// AvgPool2d 是无填充的平均池化。
type AvgPool2d struct {
	stateless
	Kernel, Stride int
}

func (m *AvgPool2d) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expect4D("avgpool2d", x); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	oh := poolOutSize(h, m.Kernel, m.Stride, 0, false)
	ow := poolOutSize(w, m.Kernel, m.Stride, 0, false)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("avgpool2d: input %dx%d smaller than kernel %d", h, w, m.Kernel)
	}
	out := tensor.New(n, ch, oh, ow)
	src, dst := x.Data(), out.Data()
	area := float32(m.Kernel * m.Kernel)
	for p := 0; p < n*ch; p++ {
		plane := src[p*h*w : (p+1)*h*w]
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				var sum float32
				for ky := 0; ky < m.Kernel; ky++ {
					for kx := 0; kx < m.Kernel; kx++ {
						sum += plane[(oy*m.Stride+ky)*w+ox*m.Stride+kx]
					}
				}
				dst[p*oh*ow+oy*ow+ox] = sum / area
			}
		}
	}
	return out, nil
}

// AdaptiveAvgPool2d 把任意空间尺寸平均池化到固定的 (OutH, OutW)。
type AdaptiveAvgPool2d struct {
	stateless
	OutH, OutW int
}

func (m *AdaptiveAvgPool2d) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expect4D("adaptive_avgpool2d", x); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	if h == m.OutH && w == m.OutW {
		return x, nil
	}
	out := tensor.New(n, ch, m.OutH, m.OutW)
	src, dst := x.Data(), out.Data()
	for p := 0; p < n*ch; p++ {
		plane := src[p*h*w : (p+1)*h*w]
		for oy := 0; oy < m.OutH; oy++ {
			y0, y1 := oy*h/m.OutH, ((oy+1)*h+m.OutH-1)/m.OutH
			for ox := 0; ox < m.OutW; ox++ {
				x0, x1 := ox*w/m.OutW, ((ox+1)*w+m.OutW-1)/m.OutW
				var sum float32
				for y := y0; y < y1; y++ {
					for xx := x0; xx < x1; xx++ {
						sum += plane[y*w+xx]
					}
				}
				dst[p*m.OutH*m.OutW+oy*m.OutW+ox] = sum / float32((y1-y0)*(x1-x0))
			}
		}
	}
	return out, nil
}
