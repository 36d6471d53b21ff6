package config_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/alignkit/config"
	_ "github.com/rushteam/alignkit/config/builders"
	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/scorer"
	"github.com/rushteam/alignkit/store"
	"github.com/rushteam/alignkit/tensor"
)

type fixedEncoder struct {
	name string
	out  *tensor.Tensor
}

func (e fixedEncoder) Name() string { return e.name }
func (e fixedEncoder) Encode(*nn.Session, *tensor.Tensor) (*tensor.Tensor, error) {
	return e.out, nil
}

type fixedNetwork struct{ out *tensor.Tensor }

func (n fixedNetwork) Name() string                                     { return "fixed" }
func (n fixedNetwork) VisitParams(string, func(string, *tensor.Tensor)) {}
func (n fixedNetwork) SetTraining(bool)                                 {}
func (n fixedNetwork) Forward(*nn.Session, *tensor.Tensor) (*tensor.Tensor, error) {
	return n.out, nil
}

func stubOptions() config.EnvOption {
	return config.WithScorerOptions(
		scorer.WithEncoders(
			fixedEncoder{name: "audio", out: tensor.MustFromData([]float32{1, 1, 1, 1}, 1, 2, 2)},
			fixedEncoder{name: "image", out: tensor.MustFromData([]float32{1, 1, 2, 2}, 1, 2, 1, 2)},
		),
		scorer.WithNetwork(fixedNetwork{out: tensor.MustFromData([]float32{0, 3, 1}, 1, 3)}),
	)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "eval.yaml", `
models:
  threshold: 4
  timeout: 10s
classifier:
  variant: GoogLeNetPlaces205
workers: 2
dataset:
  dir: /data/places
  manifest: samples.json
  mel:
    target_length: 512
store:
  type: sqlite
  path: results.db
params:
  min_misa: 3
pipeline:
  name: places
  nodes:
    - type: score.alignment
    - type: filter.expr
      config:
        expr: score.misa > rctx.params.min_misa
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4.0, f.Models.Threshold)
	assert.Equal(t, 1024, f.Models.EmbeddingDim, "defaults survive")
	assert.Equal(t, 10*time.Second, f.Models.Timeout)
	assert.Equal(t, "GoogLeNetPlaces205", f.Classifier.Variant)
	assert.Equal(t, 224, f.Classifier.InputSize)
	assert.Equal(t, 2, f.Workers)
	assert.Equal(t, 512, f.Dataset.Mel.TargetLength)
	assert.Equal(t, 16000, f.Dataset.Mel.SampleRate)
	assert.True(t, f.Dataset.Mel.UseRawLength)
	assert.Equal(t, filepath.Join("/data/places", "samples.json"), f.Dataset.ManifestPath())
	assert.Equal(t, store.TypeSQLite, f.Store.Type)
	assert.Equal(t, "places", f.Pipeline.Name)
	require.Len(t, f.Pipeline.Nodes, 2)
	assert.Equal(t, "score.misa > rctx.params.min_misa", f.Pipeline.Nodes[1].Config["expr"])
	assert.NoError(t, f.Validate())
}

func TestValidate(t *testing.T) {
	f := config.Default()
	assert.ErrorContains(t, f.Validate(), "dataset.manifest")

	f.Dataset.Manifest = "samples.json"
	require.NoError(t, f.Validate())

	f.Workers = 0
	assert.ErrorContains(t, f.Validate(), "workers")
	f.Workers = 1

	f.Dataset.Archive = "places.tar.gz"
	assert.ErrorContains(t, f.Validate(), "dataset.dir")
	f.Dataset.Archive = ""

	f.Pipeline.Nodes = []pipeline.NodeConfig{{Type: "rank.lr"}}
	err := f.Validate()
	assert.ErrorContains(t, err, `unsupported node type "rank.lr"`)
	assert.ErrorContains(t, err, "score.alignment")
}

func TestSupportedTypes(t *testing.T) {
	assert.Equal(t, []string{
		"filter", "filter.expr", "label.places205", "score.alignment", "score.scene", "sink.store",
	}, config.SupportedTypes())
}

func TestEnv_DefaultPipeline(t *testing.T) {
	dir := t.TempDir()
	f := config.Default()
	f.Labels = writeFile(t, dir, "places205.csv", "/a/abbey 0\n/a/airport_terminal 1\n/c/canyon 2\n")

	env := config.NewEnv(context.Background(), f, stubOptions(), config.WithLogger(logging.Discard()))
	defer env.Close()
	assert.NotEmpty(t, env.RunID)

	p, err := env.BuildPipeline()
	require.NoError(t, err)
	assert.Equal(t, []string{"score.alignment", "score.scene", "label.places205", "sink.store"}, p.Names())

	ctx := context.Background()
	good := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: image.NewRGBA(image.Rect(0, 0, 256, 256))})
	bad := core.NewEvaluation(&core.Sample{ID: "b"})
	bad.Err = errors.New("decode wav")

	out, err := p.Run(ctx, env.RunContext(), []*core.Evaluation{good, bad})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	require.NotNil(t, good.Alignment)
	assert.Equal(t, 3.0, good.Alignment.Score.MISA)
	assert.Equal(t, "airport_terminal", good.Scene.Label)

	s, err := env.Store()
	require.NoError(t, err)
	rec, err := store.Read(ctx, s, env.RunID, "a")
	require.NoError(t, err)
	assert.Equal(t, "Airport Terminal", rec.Labels["scene_display"])
	rec, err = store.Read(ctx, s, env.RunID, "b")
	require.NoError(t, err)
	assert.Equal(t, "decode wav", rec.Error)
}

func TestBuildPipeline_AlignmentThreshold(t *testing.T) {
	f := config.Default()
	f.Pipeline.Nodes = []pipeline.NodeConfig{
		{Type: "score.alignment", Config: map[string]interface{}{"threshold": 4}},
	}
	env := config.NewEnv(context.Background(), f, stubOptions(), config.WithLogger(logging.Discard()))
	defer env.Close()

	p, err := env.BuildPipeline()
	require.NoError(t, err)
	ev := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: image.NewRGBA(image.Rect(0, 0, 256, 256))})
	_, err = p.Run(context.Background(), env.RunContext(), []*core.Evaluation{ev})
	require.NoError(t, err)
	require.NotNil(t, ev.Alignment)
	assert.Equal(t, 4.0, ev.Alignment.Threshold)
	assert.Equal(t, 4, ev.Alignment.Mask.Matches())
}

func TestEnv_FilterAndRunContext(t *testing.T) {
	f := config.Default()
	f.Params = map[string]any{"min_misa": 4}
	f.Pipeline.Nodes = []pipeline.NodeConfig{
		{Type: "score.alignment"},
		{Type: "filter", Config: map[string]interface{}{
			"filters": []interface{}{
				map[string]interface{}{"type": "blacklist", "sample_ids": []interface{}{"x"}},
				map[string]interface{}{"type": "expr", "expr": "score.misa > rctx.params.min_misa"},
			},
		}},
	}
	env := config.NewEnv(context.Background(), f, stubOptions(), config.WithRunID("run-1"), config.WithLogger(logging.Discard()))
	defer env.Close()

	rctx := env.RunContext()
	assert.Equal(t, "run-1", rctx.RunID)
	assert.Equal(t, 4.0, rctx.Params["min_misa"])
	lbl, _ := rctx.GetLabel("variant")
	assert.Equal(t, "vgg16_places", lbl.Value)

	p, err := env.BuildPipeline()
	require.NoError(t, err)
	ev := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: image.NewRGBA(image.Rect(0, 0, 256, 256))})
	out, err := p.Run(context.Background(), rctx, []*core.Evaluation{ev})
	require.NoError(t, err)
	assert.Empty(t, out, "MISA 3 is not above 4")
	assert.True(t, ev.Dropped)
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		node pipeline.NodeConfig
		want string
	}{
		{"labels missing", pipeline.NodeConfig{Type: "label.places205"}, "needs labels"},
		{"expr missing", pipeline.NodeConfig{Type: "filter.expr"}, "expr not found"},
		{"expr invalid", pipeline.NodeConfig{Type: "filter.expr", Config: map[string]interface{}{"expr": "score.misa >"}}, "compile error"},
		{"filters missing", pipeline.NodeConfig{Type: "filter"}, "filters not found"},
		{"filter unknown", pipeline.NodeConfig{Type: "filter", Config: map[string]interface{}{
			"filters": []interface{}{map[string]interface{}{"type": "exposed"}},
		}}, "unknown filter type: exposed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := config.Default()
			f.Pipeline.Nodes = []pipeline.NodeConfig{tt.node}
			env := config.NewEnv(context.Background(), f, config.WithLogger(logging.Discard()))
			defer env.Close()
			_, err := env.BuildPipeline()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEnv_ModelLoadError(t *testing.T) {
	f := config.Default()
	f.Models.AudioModelPath = filepath.Join(t.TempDir(), "missing.safetensors")
	f.Pipeline.Nodes = []pipeline.NodeConfig{{Type: "score.alignment"}}
	env := config.NewEnv(context.Background(), f, config.WithLogger(logging.Discard()))
	_, err := env.BuildPipeline()
	assert.True(t, core.IsModelLoad(err))
}
