package filter

import (
	"context"

	"github.com/rushteam/alignkit/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的样本（例如已知标注有误的 uttid）。
type BlacklistFilter struct {
	// SampleIDs 是内存中的黑名单样本 ID 列表
	SampleIDs []string

	// Store 用于从存储中读取黑名单（可选）
	Store BlacklistStore

	// Key 是 Store 中的黑名单 key（可选）
	Key string
}

// BlacklistStore 是黑名单存储接口。
type BlacklistStore interface {
	// GetBlacklist 获取黑名单样本 ID 列表
	GetBlacklist(ctx context.Context, key string) ([]string, error)
}

// NewBlacklistFilter 创建一个黑名单过滤器。
func NewBlacklistFilter(sampleIDs []string, storeAdapter *StoreAdapter, key string) *BlacklistFilter {
	var store BlacklistStore
	if storeAdapter != nil {
		store = storeAdapter
	}
	return &BlacklistFilter{
		SampleIDs: sampleIDs,
		Store:     store,
		Key:       key,
	}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	ctx context.Context,
	_ *core.RunContext,
	ev *core.Evaluation,
) (bool, error) {
	if ev == nil {
		return true, nil
	}
	id := ev.ID()

	for _, b := range f.SampleIDs {
		if id == b {
			return true, nil
		}
	}

	if f.Store != nil && f.Key != "" {
		blacklist, err := f.Store.GetBlacklist(ctx, f.Key)
		if err != nil && !core.IsStoreNotFound(err) {
			return false, err
		}
		for _, b := range blacklist {
			if id == b {
				return true, nil
			}
		}
	}

	return false, nil
}
