package filter

import (
	"context"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/pkg/dsl"
)

// ExprFilter 只保留表达式为 true 的样本，表达式语法见 dsl.Program。
type ExprFilter struct {
	program *dsl.Program
}

// NewExprFilter 编译表达式；语法错误在构建时返回。
func NewExprFilter(expr string) (*ExprFilter, error) {
	p, err := dsl.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &ExprFilter{program: p}, nil
}

func (f *ExprFilter) Name() string { return "filter.expr" }

// Expr 返回原始表达式。
func (f *ExprFilter) Expr() string { return f.program.String() }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RunContext, ev *core.Evaluation) (bool, error) {
	keep, err := f.program.Match(ev, rctx)
	if err != nil {
		return false, err
	}
	return !keep, nil
}

// FailedFilter 过滤掉已经失败的样本。
type FailedFilter struct{}

func (FailedFilter) Name() string { return "filter.failed" }

func (FailedFilter) ShouldFilter(_ context.Context, _ *core.RunContext, ev *core.Evaluation) (bool, error) {
	return ev == nil || ev.Err != nil, nil
}
