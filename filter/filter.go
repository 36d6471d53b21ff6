// Package filter 提供评估链路中的过滤节点：按表达式、黑名单、失败状态或已有结果剔除样本。
package filter

import (
	"context"

	"github.com/rushteam/alignkit/core"
)

// Filter 是过滤器的抽象接口，用于判断一条评估结果是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断 ev 是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RunContext, ev *core.Evaluation) (bool, error)
}
