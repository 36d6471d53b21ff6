package filter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/pkg/utils"
)

// FilterNode 是过滤 Node，可以组合多个过滤器进行过滤。
// 如果任何一个过滤器返回 true，该样本就会被标记为 Dropped 并从输出中移除。
type FilterNode struct {
	Filters []Filter
	Logger  logrus.FieldLogger
}

func (n *FilterNode) Name() string {
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RunContext,
	evals []*core.Evaluation,
) ([]*core.Evaluation, error) {
	if len(n.Filters) == 0 || len(evals) == 0 {
		return evals, nil
	}
	logger := n.Logger
	if logger == nil {
		logger = logging.Component("filter")
	}

	out := make([]*core.Evaluation, 0, len(evals))
	for _, ev := range evals {
		if ev == nil {
			continue
		}

		shouldFilter := false
		filterReason := ""

		// 依次检查每个过滤器
		for _, f := range n.Filters {
			ok, err := f.ShouldFilter(ctx, rctx, ev)
			if err != nil {
				// 过滤器错误时记录但不中断流程
				logger.WithError(err).WithFields(logrus.Fields{
					"filter": f.Name(),
					"sample": ev.ID(),
				}).Warn("filter failed, keeping sample")
				continue
			}
			if ok {
				shouldFilter = true
				filterReason = f.Name()
				break
			}
		}

		if shouldFilter {
			ev.Dropped = true
			ev.PutLabel("filtered", utils.Label{
				Value:  "true",
				Source: filterReason,
			})
			continue
		}

		out = append(out, ev)
	}

	return out, nil
}
