package filter

import (
	"context"

	"github.com/rushteam/alignkit/core"
)

// ResultChecker 判断某次运行是否已经保存了样本的成功结果。
type ResultChecker interface {
	HasResult(ctx context.Context, runID, sampleID string) (bool, error)
}

// DoneFilter 过滤掉在 RunID 下已经成功出结果的样本，用于中断后续跑。
// 上次失败的样本不过滤，续跑时重新计算。
// RunID 为空时使用当前运行的 run id。放在打分节点之前才能省掉重复计算。
type DoneFilter struct {
	Checker ResultChecker
	RunID   string
}

// NewDoneFilter 创建一个续跑过滤器。
func NewDoneFilter(adapter *StoreAdapter, runID string) *DoneFilter {
	return &DoneFilter{Checker: adapter, RunID: runID}
}

func (f *DoneFilter) Name() string { return "filter.done" }

func (f *DoneFilter) ShouldFilter(ctx context.Context, rctx *core.RunContext, ev *core.Evaluation) (bool, error) {
	if f.Checker == nil || ev == nil {
		return false, nil
	}
	runID := f.RunID
	if runID == "" && rctx != nil {
		runID = rctx.RunID
	}
	if runID == "" {
		return false, nil
	}
	return f.Checker.HasResult(ctx, runID, ev.ID())
}
