// Package nn 实现推理所需的卷积网络层：Conv2d、池化、BatchNorm、LRN、Linear、Dropout、Sequential。
//
// 布局约定与 PyTorch 一致：输入为 NCHW，卷积权重为 (out, in, kh, kw)，Linear 权重为 (out, in)。
// 参数名也与 PyTorch state_dict 一致（如 "features.0.weight"），
// 因此预训练权重可以直接按名字绑定。
package nn

import (
	"fmt"
	"strconv"

	"github.com/rushteam/alignkit/tensor"
)

// Module 是所有网络层的最小抽象。
type Module interface {
	// Forward 前向计算；模块在前向中不修改自身参数。
	Forward(s *Session, x *tensor.Tensor) (*tensor.Tensor, error)

	// VisitParams 按 state_dict 命名遍历参数（含 running_mean 等 buffer），prefix 形如 "features.0."。
	VisitParams(prefix string, visit func(name string, p *tensor.Tensor))

	// SetTraining 切换训练/评估模式，只影响 BatchNorm、Dropout。
	SetTraining(training bool)
}

// Eval 把模块切换到评估模式并返回它本身。
func Eval[M Module](m M) M {
	m.SetTraining(false)
	return m
}

// Entry 是 Sequential 中的具名子模块。
type Entry struct {
	Name   string
	Module Module
}

// Sequential 依次执行子模块。
type Sequential struct {
	entries []Entry
}

// NewSequential 以下标命名子模块（"0"、"1"…），与 torch.nn.Sequential 一致。
func NewSequential(mods ...Module) *Sequential {
	entries := make([]Entry, len(mods))
	for i, m := range mods {
		entries[i] = Entry{Name: strconv.Itoa(i), Module: m}
	}
	return &Sequential{entries: entries}
}

// NewNamed 以自定义名字组织子模块。
func NewNamed(entries ...Entry) *Sequential {
	return &Sequential{entries: entries}
}

// Len 返回子模块数量。
func (q *Sequential) Len() int { return len(q.entries) }

// Get 按名字取子模块。
func (q *Sequential) Get(name string) (Module, bool) {
	for _, e := range q.entries {
		if e.Name == name {
			return e.Module, true
		}
	}
	return nil, false
}

// Slice 返回 [from, to) 区间的子序列，名字保持不变（对应 children()[:-1] 这类截取）。
func (q *Sequential) Slice(from, to int) *Sequential {
	entries := make([]Entry, to-from)
	copy(entries, q.entries[from:to])
	return &Sequential{entries: entries}
}

func (q *Sequential) Forward(s *Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, e := range q.entries {
		if err := s.Err(); err != nil {
			return nil, err
		}
		x, err = e.Module.Forward(s, x)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", e.Name, err)
		}
		s.recordActivation(e.Name, x)
	}
	return x, nil
}

func (q *Sequential) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	for _, e := range q.entries {
		e.Module.VisitParams(prefix+e.Name+".", visit)
	}
}

func (q *Sequential) SetTraining(training bool) {
	for _, e := range q.entries {
		e.Module.SetTraining(training)
	}
}

// stateless 为无参数、无模式的层提供空实现。
type stateless struct{}

func (stateless) VisitParams(string, func(string, *tensor.Tensor)) {}
func (stateless) SetTraining(bool)                                 {}

// expect4D 校验 NCHW 输入。
func expect4D(layer string, x *tensor.Tensor) error {
	if x.NDim() != 4 {
		return fmt.Errorf("%s: expected 4-D NCHW input, got %s", layer, tensor.FormatShape(x.Shape()))
	}
	return nil
}
