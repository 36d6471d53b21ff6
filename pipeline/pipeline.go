package pipeline

import (
	"context"
	"fmt"

	"github.com/rushteam/alignkit/core"
)

// Pipeline 把一次评估拆成可组合的 Node 链：打分 -> 标注 -> 过滤 -> 输出。
type Pipeline struct {
	Nodes []Node
}

// Run 依次执行各 Node。节点之间检查 ctx，取消后立即返回。
func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RunContext,
	evals []*core.Evaluation,
) ([]*core.Evaluation, error) {
	cur := evals
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := node.Process(ctx, rctx, cur)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

// Names 返回各 Node 的名称，用于启动日志。
func (p *Pipeline) Names() []string {
	out := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		out = append(out, n.Name())
	}
	return out
}
