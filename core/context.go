package core

import "github.com/rushteam/alignkit/pkg/utils"

// RunContext 承载一次评估运行的信息，贯穿整个 Pipeline 透传。
type RunContext struct {
	RunID   string
	Dataset string

	// Labels 是运行级标签，例如使用的骨干、阈值来源
	Labels map[string]utils.Label

	// Params 运行级参数，例如 CLI 传入的过滤表达式
	Params map[string]any
}

// PutLabel 写入运行级 Label。
func (rctx *RunContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取运行级 Label。
func (rctx *RunContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
