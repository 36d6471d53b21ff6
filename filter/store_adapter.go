package filter

import (
	"context"
	"encoding/json"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/store"
)

// StoreAdapter 将 core.Store 适配为过滤器所需的存储接口。
type StoreAdapter struct {
	store core.Store
}

// NewStoreAdapter 创建一个 core.Store 适配器。
func NewStoreAdapter(s core.Store) *StoreAdapter {
	return &StoreAdapter{store: s}
}

// GetBlacklist 从 Store 读取黑名单，值为 JSON 字符串数组。
func (a *StoreAdapter) GetBlacklist(ctx context.Context, key string) ([]string, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}

	return ids, nil
}

// HasResult 报告 runID 下是否已经保存了 sampleID 的成功结果。
// 失败样本也会落盘（带 Error），这类记录不算完成，续跑时会重试。
func (a *StoreAdapter) HasResult(ctx context.Context, runID, sampleID string) (bool, error) {
	rec, err := store.Read(ctx, a.store, runID, sampleID)
	switch {
	case err == nil:
		return rec.Error == "", nil
	case core.IsStoreNotFound(err):
		return false, nil
	default:
		return false, err
	}
}
