package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/dataset"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/pipeline"
)

// sliceSource 依次返回样本；errs 中对应下标非空时返回该错误。
type sliceSource struct {
	mu      sync.Mutex
	samples []*core.Sample
	errs    map[int]error
	next    int
}

func (s *sliceSource) Next(ctx context.Context) (*core.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.samples) {
		return nil, io.EOF
	}
	i := s.next
	s.next++
	if err := s.errs[i]; err != nil {
		return nil, err
	}
	return s.samples[i], nil
}

func source(n int) *sliceSource {
	src := &sliceSource{errs: map[int]error{}}
	for i := 0; i < n; i++ {
		src.samples = append(src.samples, &core.Sample{ID: fmt.Sprintf("s%02d", i), Frames: i})
	}
	return src
}

// scoreNode 用帧数作为分数，frames 为 3 的倍数时预测 "abbey"，否则 "canyon"。
type scoreNode struct {
	calls atomic.Int64
	fail  string
}

func (n *scoreNode) Name() string        { return "score.fake" }
func (n *scoreNode) Kind() pipeline.Kind { return pipeline.KindScore }

func (n *scoreNode) Process(_ context.Context, _ *core.RunContext, evals []*core.Evaluation) ([]*core.Evaluation, error) {
	for _, ev := range evals {
		if !pipeline.Active(ev) {
			continue
		}
		n.calls.Add(1)
		if ev.ID() == n.fail {
			ev.Err = errors.New("encoder failed")
			continue
		}
		v := float64(ev.Sample.Frames)
		ev.Alignment = &core.AlignmentResult{Score: core.AlignmentScore{SISA: v, MISA: 2 * v, SIMA: 10 - v}}
		label := "canyon"
		if ev.Sample.Frames%3 == 0 {
			label = "abbey"
		}
		ev.Scene = &core.ClassifyResult{ClassIndex: 0, Label: label}
	}
	return evals, nil
}

// dropNode 过滤掉指定样本。
type dropNode struct{ id string }

func (n *dropNode) Name() string        { return "filter.fake" }
func (n *dropNode) Kind() pipeline.Kind { return pipeline.KindFilter }

func (n *dropNode) Process(_ context.Context, _ *core.RunContext, evals []*core.Evaluation) ([]*core.Evaluation, error) {
	out := evals[:0]
	for _, ev := range evals {
		if ev.ID() == n.id {
			ev.Dropped = true
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func TestRunner_Summary(t *testing.T) {
	src := source(6)
	src.errs[5] = &dataset.SampleError{ID: "s05", Err: errors.New("decode wav")}
	score := &scoreNode{fail: "s04"}
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{score, &dropNode{id: "s01"}}}

	rctx := &core.RunContext{}
	sum, err := New(p, WithWorkers(3), WithTopN(2), WithLogger(logging.Discard())).Run(context.Background(), rctx, src)
	require.NoError(t, err)

	assert.NotEmpty(t, rctx.RunID)
	assert.Equal(t, rctx.RunID, sum.RunID)
	assert.Equal(t, 6, sum.Count)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.Dropped)
	assert.Equal(t, 3, sum.Scored)
	assert.EqualValues(t, 5, score.calls.Load(), "the unreadable sample never reaches the scorer")

	// s00, s02, s03
	assert.InDelta(t, 5.0/3, sum.Mean.SISA, 1e-12)
	assert.InDelta(t, 10.0/3, sum.Mean.MISA, 1e-12)
	assert.InDelta(t, 25.0/3, sum.Mean.SIMA, 1e-12)
	assert.Equal(t, map[string]int{"abbey": 2, "canyon": 1}, sum.Classes)
	assert.Equal(t, []string{"abbey", "canyon"}, sum.ClassNames())

	assert.Equal(t, []Ranked{{"s03", 6}, {"s02", 4}}, sum.Top["misa"])
	assert.Equal(t, []Ranked{{"s00", 10}, {"s02", 8}}, sum.Top["sima"])

	require.Len(t, sum.Evaluations, 6)
	for i, ev := range sum.Evaluations {
		assert.Equal(t, fmt.Sprintf("s%02d", i), ev.ID(), "source order is kept")
	}
	assert.ErrorContains(t, sum.Evaluations[5].Err, "decode wav")
}

func TestRunner_Concurrent(t *testing.T) {
	score := &scoreNode{}
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{score}}
	sum, err := New(p, WithWorkers(8), WithLogger(logging.Discard())).Run(context.Background(), &core.RunContext{RunID: "fixed"}, source(50))
	require.NoError(t, err)
	assert.Equal(t, "fixed", sum.RunID)
	assert.Equal(t, 50, sum.Scored)
	assert.EqualValues(t, 50, score.calls.Load())
	assert.Len(t, sum.Top["sisa"], 5)
}

func TestRunner_FailFast(t *testing.T) {
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{&scoreNode{fail: "s00"}}}
	sum, err := New(p, WithFailFast(true), WithLogger(logging.Discard())).Run(context.Background(), nil, source(20))
	require.Error(t, err)
	assert.ErrorContains(t, err, "sample s00: encoder failed")
	assert.Less(t, sum.Count, 20)
	assert.GreaterOrEqual(t, sum.Failed, 1)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{&scoreNode{}}}
	sum, err := New(p, WithLogger(logging.Discard())).Run(ctx, nil, source(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Count)
}

func TestSummarize_NoScores(t *testing.T) {
	ev := core.NewEvaluation(&core.Sample{ID: "a"})
	ev.Scene = &core.ClassifyResult{ClassIndex: 7}
	missing := core.NewEvaluation(&core.Sample{ID: "b"})
	missing.Scene = &core.ClassifyResult{ClassIndex: -1, Missing: true}

	sum := Summarize("r", []*core.Evaluation{ev, missing}, 0)
	assert.Equal(t, core.AlignmentScore{}, sum.Mean)
	assert.Equal(t, map[string]int{"#7": 1}, sum.Classes)
	assert.Equal(t, 1, sum.Missing)
	assert.Empty(t, sum.Top)
}
