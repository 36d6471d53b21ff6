package labels

import (
	"context"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/pkg/utils"
)

// Node 把场景分类结果的类别下标翻译成 Places205 类别名。
//   - 填充 ClassifyResult.Label（若为空）
//   - 写入 labels：scene；Display 为 true 时再写入 scene_display（"Living Room"）
//
// 下标超出类别表时写入 scene_unknown，不把样本标记为失败。
type Node struct {
	Table   *Table
	Display bool
}

func (n *Node) Name() string        { return "label.places205" }
func (n *Node) Kind() pipeline.Kind { return pipeline.KindLabel }

func (n *Node) Process(
	_ context.Context,
	_ *core.RunContext,
	evals []*core.Evaluation,
) ([]*core.Evaluation, error) {
	if n.Table == nil {
		return evals, nil
	}
	for _, ev := range evals {
		if !pipeline.Active(ev) || ev.Scene == nil || ev.Scene.Missing {
			continue
		}
		name, err := n.Table.Lookup(ev.Scene.ClassIndex)
		if err != nil {
			ev.PutLabel("scene_unknown", utils.Label{Value: err.Error(), Source: "places205"})
			continue
		}
		if ev.Scene.Label == "" {
			ev.Scene.Label = name
		}
		ev.PutLabel("scene", utils.Label{Value: name, Source: "places205"})
		if n.Display {
			ev.PutLabel("scene_display", utils.Label{Value: Display(name), Source: "places205"})
		}
	}
	return evals, nil
}
