package pipeline

import (
	"context"

	"github.com/rushteam/alignkit/core"
)

// Kind 用于标记 Node 类型，方便观测与编排（例如按阶段打点）。
type Kind string

const (
	KindScore  Kind = "score"  // 打分阶段：对齐打分、场景分类
	KindLabel  Kind = "label"  // 标注阶段：类别名等可解释标签
	KindFilter Kind = "filter" // 过滤阶段：剔除不符合条件的样本
	KindSink   Kind = "sink"   // 输出阶段：持久化评估结果
)

// Node 是 Pipeline 的最小可扩展单元。
// 统一采用“输入 evals -> 输出 evals”的形态，打分节点原地填充结果，过滤节点截断切片。
//
// 单个样本的失败应写入 Evaluation.Err 而不是返回 error；
// 返回 error 表示整批无法继续（例如 ctx 取消、存储不可用）。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RunContext,
		evals []*core.Evaluation,
	) ([]*core.Evaluation, error)
}

// Active 报告 ev 是否还需要后续节点处理：未失败且未被过滤。
func Active(ev *core.Evaluation) bool {
	return ev != nil && ev.Err == nil && !ev.Dropped
}
