package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/alignkit/core"
)

// markNode 给每条样本打上自己的名字，drop 中的样本被移除。
type markNode struct {
	name string
	drop string
	err  error
}

func (n *markNode) Name() string { return n.name }
func (n *markNode) Kind() Kind   { return KindLabel }

func (n *markNode) Process(_ context.Context, _ *core.RunContext, evals []*core.Evaluation) ([]*core.Evaluation, error) {
	if n.err != nil {
		return nil, n.err
	}
	out := evals[:0]
	for _, ev := range evals {
		if ev.ID() == n.drop {
			ev.Dropped = true
			continue
		}
		ev.Meta[n.name] = true
		out = append(out, ev)
	}
	return out, nil
}

func samples(ids ...string) []*core.Evaluation {
	out := make([]*core.Evaluation, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.NewEvaluation(&core.Sample{ID: id}))
	}
	return out
}

func TestPipelineRun(t *testing.T) {
	in := samples("a", "b")
	p := &Pipeline{Nodes: []Node{&markNode{name: "first", drop: "b"}, &markNode{name: "second"}}}
	out, err := p.Run(context.Background(), &core.RunContext{}, in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID())
	assert.Equal(t, true, out[0].Meta["second"])
	assert.Equal(t, []string{"first", "second"}, p.Names())
}

func TestPipelineRun_Errors(t *testing.T) {
	p := &Pipeline{Nodes: []Node{&markNode{name: "broken", err: errors.New("store down")}}}
	_, err := p.Run(context.Background(), nil, samples("a"))
	assert.ErrorContains(t, err, "node broken: store down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&Pipeline{Nodes: []Node{&markNode{name: "x"}}}).Run(ctx, nil, samples("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestActive(t *testing.T) {
	ev := core.NewEvaluation(&core.Sample{ID: "a"})
	assert.True(t, Active(ev))
	ev.Dropped = true
	assert.False(t, Active(ev))
	ev = core.NewEvaluation(nil)
	ev.Err = errors.New("x")
	assert.False(t, Active(ev))
	assert.False(t, Active(nil))
}

const yamlConfig = `
pipeline:
  name: places
  nodes:
    - type: mark
      config:
        name: first
    - type: mark
      config:
        name: second
`

func TestConfigBuildPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o644))

	cfg, err := LoadFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, "places", cfg.Pipeline.Name)
	require.Len(t, cfg.Pipeline.Nodes, 2)

	f := NewNodeFactory()
	f.Register("mark", func(c map[string]interface{}) (Node, error) {
		return &markNode{name: c["name"].(string)}, nil
	})
	p, err := cfg.BuildPipeline(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, p.Names())

	cfg.Pipeline.Nodes = append(cfg.Pipeline.Nodes, NodeConfig{Type: "nope"})
	_, err = cfg.BuildPipeline(f)
	assert.ErrorContains(t, err, `unknown node type "nope" (supported: [mark])`)
}

func TestLoadFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pipeline":{"name":"j","nodes":[{"type":"sink.store","config":{"ttl":60}}]}}`), 0o644))
	cfg, err := LoadFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "sink.store", cfg.Pipeline.Nodes[0].Type)
	assert.Equal(t, 60.0, cfg.Pipeline.Nodes[0].Config["ttl"])

	_, err = LoadFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
