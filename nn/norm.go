package nn

import (
	"fmt"
	"math"

	"github.com/rushteam/alignkit/tensor"
)

// BatchNorm2d 按通道归一化。评估模式使用 running 统计量；训练模式使用当前 batch 统计量并更新 running 统计量。
type BatchNorm2d struct {
	Channels int
	Eps      float32
	Momentum float32
	training bool

	Weight            *tensor.Tensor
	Bias              *tensor.Tensor
	RunningMean       *tensor.Tensor
	RunningVar        *tensor.Tensor
	NumBatchesTracked *tensor.Tensor
}

// NewBatchNorm2d 创建 BatchNorm2d（eps=1e-5，momentum=0.1），默认处于训练模式，与 PyTorch 一致。
func NewBatchNorm2d(channels int) *BatchNorm2d {
	bn := &BatchNorm2d{
		Channels:          channels,
		Eps:               1e-5,
		Momentum:          0.1,
		training:          true,
		Weight:            tensor.New(channels),
		Bias:              tensor.New(channels),
		RunningMean:       tensor.New(channels),
		RunningVar:        tensor.New(channels),
		NumBatchesTracked: tensor.New(),
	}
	for i := range bn.Weight.Data() {
		bn.Weight.Data()[i] = 1
		bn.RunningVar.Data()[i] = 1
	}
	return bn
}

func (bn *BatchNorm2d) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	visit(prefix+"weight", bn.Weight)
	visit(prefix+"bias", bn.Bias)
	visit(prefix+"running_mean", bn.RunningMean)
	visit(prefix+"running_var", bn.RunningVar)
	visit(prefix+"num_batches_tracked", bn.NumBatchesTracked)
}

func (bn *BatchNorm2d) SetTraining(training bool) { bn.training = training }

// Training 返回当前模式。
func (bn *BatchNorm2d) Training() bool { return bn.training }

func (bn *BatchNorm2d) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expect4D("batchnorm2d", x); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	if ch != bn.Channels {
		return nil, fmt.Errorf("batchnorm2d: expected %d channels, got %d", bn.Channels, ch)
	}
	plane := h * w
	mean := make([]float32, ch)
	variance := make([]float32, ch)
	src := x.Data()

	if bn.training {
		count := float64(n * plane)
		for c := 0; c < ch; c++ {
			var sum, sq float64
			for b := 0; b < n; b++ {
				for _, v := range src[(b*ch+c)*plane : (b*ch+c+1)*plane] {
					sum += float64(v)
					sq += float64(v) * float64(v)
				}
			}
			m := sum / count
			mean[c] = float32(m)
			variance[c] = float32(sq/count - m*m)
			unbiased := variance[c]
			if count > 1 {
				unbiased = float32((sq/count - m*m) * count / (count - 1))
			}
			rm, rv := bn.RunningMean.Data(), bn.RunningVar.Data()
			rm[c] = (1-bn.Momentum)*rm[c] + bn.Momentum*mean[c]
			rv[c] = (1-bn.Momentum)*rv[c] + bn.Momentum*unbiased
		}
		bn.NumBatchesTracked.Data()[0]++
	} else {
		copy(mean, bn.RunningMean.Data())
		copy(variance, bn.RunningVar.Data())
	}

	out := tensor.New(n, ch, h, w)
	dst := out.Data()
	weight, bias := bn.Weight.Data(), bn.Bias.Data()
	for b := 0; b < n; b++ {
		for c := 0; c < ch; c++ {
			scale := weight[c] / float32(math.Sqrt(float64(variance[c]+bn.Eps)))
			shift := bias[c] - mean[c]*scale
			off := (b*ch + c) * plane
			for i := off; i < off+plane; i++ {
				dst[i] = src[i]*scale + shift
			}
		}
	}
	return out, nil
}

// LocalResponseNorm 跨通道局部响应归一化：
// b_c = a_c / (k + alpha/n * Σ a_{c'}^2)^beta，窗口为 [c - n/2, c + (n-1)/2]。
type LocalResponseNorm struct {
	stateless
	Size  int
	Alpha float64
	Beta  float64
	K     float64
}

func (l *LocalResponseNorm) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expect4D("local_response_norm", x); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	plane := h * w
	src := x.Data()
	out := tensor.New(n, ch, h, w)
	dst := out.Data()
	before, after := l.Size/2, (l.Size-1)/2
	coef := l.Alpha / float64(l.Size)

	for b := 0; b < n; b++ {
		base := b * ch * plane
		for c := 0; c < ch; c++ {
			lo, hi := max(c-before, 0), min(c+after, ch-1)
			for i := 0; i < plane; i++ {
				var sq float64
				for cc := lo; cc <= hi; cc++ {
					v := float64(src[base+cc*plane+i])
					sq += v * v
				}
				idx := base + c*plane + i
				dst[idx] = float32(float64(src[idx]) / math.Pow(l.K+coef*sq, l.Beta))
			}
		}
	}
	return out, nil
}
