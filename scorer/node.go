package scorer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/pkg/utils"
)

// AlignmentNode 对每条样本计算对齐热力图与 SISA/MISA/SIMA。
//   - 写入 Evaluation.Alignment
//   - 写入 labels：align_matches（热力图中低于阈值的位置数）
//
// Threshold > 0 时覆盖 Scorer 的阈值，只重算 MatchMask。
type AlignmentNode struct {
	Scorer    *AlignmentScorer
	Threshold float64
}

func (n *AlignmentNode) Name() string        { return "score.alignment" }
func (n *AlignmentNode) Kind() pipeline.Kind { return pipeline.KindScore }

func (n *AlignmentNode) Process(
	ctx context.Context,
	_ *core.RunContext,
	evals []*core.Evaluation,
) ([]*core.Evaluation, error) {
	if n.Scorer == nil {
		return evals, nil
	}
	for _, ev := range evals {
		if !pipeline.Active(ev) || ev.Sample == nil {
			continue
		}
		res, err := n.Scorer.Score(ctx, ev.Sample.Mel, ev.Sample.Image)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			ev.Err = fmt.Errorf("alignment: %w", err)
			continue
		}
		if n.Threshold > 0 {
			res.Mask = ComputeMatchMask(res.Heatmap, n.Threshold)
			res.Threshold = n.Threshold
		}
		ev.Alignment = res
		ev.PutLabel("align_matches", utils.Label{Value: strconv.Itoa(res.Mask.Matches()), Source: "alignment"})
	}
	return evals, nil
}

// SceneNode 对每条样本的图像做场景分类。
//   - 写入 Evaluation.Scene
//   - 写入 labels：scene_variant；没有骨干时额外写入 scene_missing
type SceneNode struct {
	Classifier *SceneClassifier
}

func (n *SceneNode) Name() string        { return "score.scene" }
func (n *SceneNode) Kind() pipeline.Kind { return pipeline.KindScore }

func (n *SceneNode) Process(
	ctx context.Context,
	_ *core.RunContext,
	evals []*core.Evaluation,
) ([]*core.Evaluation, error) {
	if n.Classifier == nil {
		return evals, nil
	}
	for _, ev := range evals {
		if !pipeline.Active(ev) || ev.Sample == nil {
			continue
		}
		res, err := n.Classifier.Classify(ctx, ev.Sample.Image)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			ev.Err = fmt.Errorf("scene: %w", err)
			continue
		}
		ev.Scene = res
		ev.PutLabel("scene_variant", utils.Label{Value: res.Variant, Source: "classifier"})
		if res.Missing {
			ev.PutLabel("scene_missing", utils.Label{Value: "true", Source: "classifier"})
		}
	}
	return evals, nil
}
