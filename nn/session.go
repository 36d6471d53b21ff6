package nn

import (
	"context"

	"github.com/rushteam/alignkit/tensor"
)

// Activation 是前向过程中记录下来的中间输出。
type Activation struct {
	Name  string
	Value *tensor.Tensor
}

// Session 是一次前向调用的上下文：取消信号 + 梯度记录开关。
//
// 梯度记录开启时，Sequential 会把每一层的输出记录到 Activations，
// 供后续反向或调试使用；关闭时（NoGrad 作用域内）中间结果用完即丢。
// Session 不是并发安全的，每次调用各自创建。
type Session struct {
	ctx    context.Context
	record bool
	tape   []Activation
}

// NewSession 创建 Session，默认开启梯度记录。
func NewSession(ctx context.Context) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{ctx: ctx, record: true}
}

// Context 返回关联的 context；nil Session 返回 Background。
func (s *Session) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	return s.ctx
}

// Err 返回 context 的取消错误。
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	return s.ctx.Err()
}

// GradEnabled 返回当前是否记录中间结果。nil Session 视为关闭。
func (s *Session) GradEnabled() bool {
	return s != nil && s.record
}

// NoGrad 进入推理作用域并返回恢复函数，调用方应 defer 执行：
//
//	restore := sess.NoGrad()
//	defer restore()
//
// 无论前向正常返回还是出错，恢复函数都会把开关还原为进入前的状态。
func (s *Session) NoGrad() (restore func()) {
	if s == nil {
		return func() {}
	}
	prev := s.record
	s.record = false
	return func() { s.record = prev }
}

// Activations 返回已记录的中间输出。
func (s *Session) Activations() []Activation {
	if s == nil {
		return nil
	}
	return s.tape
}

func (s *Session) recordActivation(name string, t *tensor.Tensor) {
	if s.GradEnabled() {
		s.tape = append(s.tape, Activation{Name: name, Value: t})
	}
}
