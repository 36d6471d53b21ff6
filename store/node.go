package store

import (
	"context"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/pipeline"
)

// SinkNode 把经过它的每条评估结果写入存储，包括失败的样本（Record.Error 非空）。
// 被过滤的样本不会到达这里。写入失败返回 error，由调用方决定是否中止运行。
type SinkNode struct {
	Writer *ResultWriter
}

func (n *SinkNode) Name() string        { return "sink.store" }
func (n *SinkNode) Kind() pipeline.Kind { return pipeline.KindSink }

func (n *SinkNode) Process(
	ctx context.Context,
	_ *core.RunContext,
	evals []*core.Evaluation,
) ([]*core.Evaluation, error) {
	if n.Writer == nil {
		return evals, nil
	}
	for _, ev := range evals {
		if ev == nil || ev.Dropped {
			continue
		}
		if err := n.Writer.Write(ctx, ev); err != nil {
			return nil, err
		}
	}
	return evals, nil
}
