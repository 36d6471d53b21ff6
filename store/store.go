// Package store 实现 core.RankingStore：内存、Redis、SQLite 三种后端，
// 以及把评估结果写入存储的 ResultWriter。接口定义在 core 包。
package store

import (
	"context"
	"fmt"

	"github.com/rushteam/alignkit/core"
)

// Type 是存储后端类型。
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
	TypeSQLite Type = "sqlite"
)

// Config 描述评估结果存储。
type Config struct {
	Type  Type        `yaml:"type" mapstructure:"type"`
	Path  string      `yaml:"path" mapstructure:"path"` // sqlite 文件路径
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
	// TTL 是结果的过期时间（秒），0 表示不过期
	TTL int `yaml:"ttl" mapstructure:"ttl"`
}

// New 按配置创建存储，类型为空时使用内存存储。
func New(ctx context.Context, cfg Config) (core.RankingStore, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeRedis:
		s, err := NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("store: redis %s: %w", cfg.Redis.Addr, err)
		}
		return s, nil
	case TypeSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: sqlite needs a path")
		}
		s, err := NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unsupported type %q", cfg.Type)
	}
}
