// Package builders 注册内置 Node 的构建逻辑，导入即生效。
package builders

import (
	"fmt"

	"github.com/rushteam/alignkit/config"
	"github.com/rushteam/alignkit/filter"
	"github.com/rushteam/alignkit/labels"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/pkg/conv"
	"github.com/rushteam/alignkit/scorer"
	"github.com/rushteam/alignkit/store"
)

func init() {
	config.Register("score.alignment", BuildAlignmentNode)
	config.Register("score.scene", BuildSceneNode)
	config.Register("label.places205", BuildLabelNode)
	config.Register("filter.expr", BuildExprNode)
	config.Register("filter", BuildFilterNode)
	config.Register("sink.store", BuildSinkNode)
}

func BuildAlignmentNode(env *config.Env, cfg map[string]interface{}) (pipeline.Node, error) {
	s, err := env.Alignment()
	if err != nil {
		return nil, err
	}
	return &scorer.AlignmentNode{Scorer: s, Threshold: conv.ConfigGetFloat64(cfg, "threshold", 0)}, nil
}

func BuildSceneNode(env *config.Env, _ map[string]interface{}) (pipeline.Node, error) {
	c, err := env.Classifier()
	if err != nil {
		return nil, err
	}
	return &scorer.SceneNode{Classifier: c}, nil
}

func BuildLabelNode(env *config.Env, cfg map[string]interface{}) (pipeline.Node, error) {
	path := conv.ConfigGet(cfg, "path", "")
	var (
		t   *labels.Table
		err error
	)
	if path != "" {
		t, err = labels.Load(env.Context(), path)
	} else {
		t, err = env.Labels()
	}
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("label.places205 needs labels in the config or a path")
	}
	return &labels.Node{Table: t, Display: conv.ConfigGet(cfg, "display", true)}, nil
}

func BuildExprNode(env *config.Env, cfg map[string]interface{}) (pipeline.Node, error) {
	expr := conv.ConfigGet(cfg, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("expr not found")
	}
	f, err := filter.NewExprFilter(expr)
	if err != nil {
		return nil, err
	}
	return &filter.FilterNode{Filters: []filter.Filter{f}, Logger: env.Logger()}, nil
}

func BuildFilterNode(env *config.Env, cfg map[string]interface{}) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, filterMap := range conv.SliceAnyToMaps(filtersConfig) {
		filterType := conv.ConfigGet(filterMap, "type", "")
		switch filterType {
		case "expr":
			f, err := filter.NewExprFilter(conv.ConfigGet(filterMap, "expr", ""))
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		case "blacklist":
			ids := conv.SliceAnyToString(filterMap["sample_ids"])
			key := conv.ConfigGet(filterMap, "key", "")
			var adapter *filter.StoreAdapter
			if key != "" {
				s, err := env.Store()
				if err != nil {
					return nil, err
				}
				adapter = filter.NewStoreAdapter(s)
			}
			filters = append(filters, filter.NewBlacklistFilter(ids, adapter, key))
		case "failed":
			filters = append(filters, filter.FailedFilter{})
		case "done":
			s, err := env.Store()
			if err != nil {
				return nil, err
			}
			filters = append(filters, filter.NewDoneFilter(filter.NewStoreAdapter(s), conv.ConfigGet(filterMap, "run_id", "")))
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters, Logger: env.Logger()}, nil
}

func BuildSinkNode(env *config.Env, cfg map[string]interface{}) (pipeline.Node, error) {
	s, err := env.Store()
	if err != nil {
		return nil, err
	}
	ttl := conv.ConfigGetInt64(cfg, "ttl", int64(env.File.Store.TTL))
	return &store.SinkNode{Writer: store.NewResultWriter(s, env.RunID, int(ttl))}, nil
}
