package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/rushteam/alignkit/tensor"
)

// Linear 是全连接层：y = x Wᵀ + b，输入 (N, in)。
type Linear struct {
	stateless
	In, Out int
	Weight  *tensor.Tensor // (out, in)
	Bias    *tensor.Tensor // (out)
}

func NewLinear(in, out int) *Linear {
	return &Linear{In: in, Out: out, Weight: tensor.New(out, in), Bias: tensor.New(out)}
}

func (l *Linear) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	visit(prefix+"weight", l.Weight)
	visit(prefix+"bias", l.Bias)
}

func (l *Linear) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NDim() != 2 || x.Dim(1) != l.In {
		return nil, fmt.Errorf("linear: expected (N, %d) input, got %s", l.In, tensor.FormatShape(x.Shape()))
	}
	n := x.Dim(0)
	out := tensor.New(n, l.Out)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: n, Cols: l.In, Stride: l.In, Data: x.Data()},
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.Weight.Data()},
		0,
		blas32.General{Rows: n, Cols: l.Out, Stride: l.Out, Data: out.Data()},
	)
	bias := l.Bias.Data()
	dst := out.Data()
	for b := 0; b < n; b++ {
		row := dst[b*l.Out : (b+1)*l.Out]
		for i := range row {
			row[i] += bias[i]
		}
	}
	return out, nil
}

// ReLU 激活。
type ReLU struct{ stateless }

func (ReLU) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data() {
		if v < 0 {
			out.Data()[i] = 0
		}
	}
	return out, nil
}

// Dropout 在训练模式下按概率 P 置零并放大 1/(1-P)；评估模式下原样返回。
type Dropout struct {
	P        float64
	training bool
}

func NewDropout(p float64) *Dropout { return &Dropout{P: p, training: true} }

func (d *Dropout) VisitParams(string, func(string, *tensor.Tensor)) {}
func (d *Dropout) SetTraining(training bool)                         { d.training = training }

func (d *Dropout) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.P == 0 {
		return x, nil
	}
	out := x.Clone()
	scale := float32(1 / (1 - d.P))
	for i, v := range out.Data() {
		if rand.Float64() < d.P {
			out.Data()[i] = 0
		} else {
			out.Data()[i] = v * scale
		}
	}
	return out, nil
}

// Flatten 把 (N, ...) 展平为 (N, -1)。
type Flatten struct{ stateless }

func (Flatten) Forward(_ *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Reshape(x.Dim(0), -1)
}
