package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/labels"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/model"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
	"github.com/rushteam/alignkit/weights"
)

// stubEncoder 返回固定输出，并记录调用时的输入形状与梯度开关。
type stubEncoder struct {
	name    string
	out     *tensor.Tensor
	err     error
	calls   int
	inShape []int
	grad    bool
}

func (e *stubEncoder) Name() string { return e.name }

func (e *stubEncoder) Encode(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	e.calls++
	e.inShape = x.Shape()
	e.grad = s.GradEnabled()
	return e.out, e.err
}

// stubNetwork 是固定输出的骨干。
type stubNetwork struct {
	out  *tensor.Tensor
	grad bool
}

func (n *stubNetwork) Name() string                                     { return "stub" }
func (n *stubNetwork) VisitParams(string, func(string, *tensor.Tensor)) {}
func (n *stubNetwork) SetTraining(bool)                                 {}
func (n *stubNetwork) Forward(s *nn.Session, _ *tensor.Tensor) (*tensor.Tensor, error) {
	n.grad = s.GradEnabled()
	return n.out, nil
}

func rgb(w, h int) image.Image { return image.NewRGBA(image.Rect(0, 0, w, h)) }

func TestComputeHeatmap_LiteralFixtures(t *testing.T) {
	audio := tensor.MustFromData([]float32{1, 1, 1, 1}, 2, 2)

	tests := []struct {
		name    string
		image   []float32
		heatmap []float64
		score   core.AlignmentScore
	}{
		{
			name:    "rows per channel",
			image:   []float32{1, 1, 2, 2},
			heatmap: []float64{3, 3, 3, 3},
			score:   core.AlignmentScore{SISA: 3, MISA: 3, SIMA: 3},
		},
		{
			name:    "distinct locations",
			image:   []float32{1, 2, 1, 2},
			heatmap: []float64{2, 4, 2, 4},
			score:   core.AlignmentScore{SISA: 3, MISA: 4, SIMA: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := tensor.MustFromData(tt.image, 2, 2)
			h, err := ComputeHeatmap(audio, img, core.Shape3{D: 2, H: 1, W: 2})
			require.NoError(t, err)
			assert.Equal(t, [3]int{2, 1, 2}, h.Shape())
			assert.InDeltaSlice(t, tt.heatmap, h.Data, 1e-9)

			s := ComputeScores(h)
			assert.InDelta(t, tt.score.SISA, s.SISA, 1e-9)
			assert.InDelta(t, tt.score.MISA, s.MISA, 1e-9)
			assert.InDelta(t, tt.score.SIMA, s.SIMA, 1e-9)
		})
	}
}

func TestComputeHeatmap_DotProducts(t *testing.T) {
	const d, tt, h, w = 3, 4, 2, 5
	audio := tensor.New(d, tt)
	img := tensor.New(d, h*w)
	for i := range audio.Data() {
		audio.Data()[i] = float32(i%5) - 2
	}
	for i := range img.Data() {
		img.Data()[i] = float32(i%7) * 0.5
	}

	hm, err := ComputeHeatmap(audio, img, core.Shape3{D: d, H: h, W: w})
	require.NoError(t, err)
	assert.Equal(t, [3]int{tt, h, w}, hm.Shape())
	for ti := 0; ti < tt; ti++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var want float64
				for c := 0; c < d; c++ {
					want += float64(audio.At(c, ti)) * float64(img.At(c, y*w+x))
				}
				assert.InDelta(t, want, hm.At(ti, y, x), 1e-6)
			}
		}
	}
}

func TestComputeScores_SpatialPermutationInvariant(t *testing.T) {
	audio := tensor.MustFromData([]float32{1, -1, 0.5, 2, 0, 1}, 2, 3)
	img := tensor.MustFromData([]float32{
		1, 2, 3, 4,
		-1, 0, 5, 2,
	}, 2, 4)
	perm := []int{2, 0, 3, 1}
	permuted := tensor.New(2, 4)
	for c := 0; c < 2; c++ {
		for i, j := range perm {
			permuted.Set(img.At(c, j), c, i)
		}
	}

	a, err := ComputeHeatmap(audio, img, core.Shape3{D: 2, H: 2, W: 2})
	require.NoError(t, err)
	b, err := ComputeHeatmap(audio, permuted, core.Shape3{D: 2, H: 1, W: 4})
	require.NoError(t, err)

	sa, sb := ComputeScores(a), ComputeScores(b)
	assert.InDelta(t, sa.SISA, sb.SISA, 1e-9)
	assert.InDelta(t, sa.MISA, sb.MISA, 1e-9)
	assert.InDelta(t, sa.SIMA, sb.SIMA, 1e-9)
}

func TestComputeScores_SingleFrame(t *testing.T) {
	h := &core.Heatmap{T: 1, H: 2, W: 2, Data: []float64{0.5, -2, 7, 1}}
	s := ComputeScores(h)
	assert.Equal(t, 7.0, s.MISA)
	assert.InDelta(t, 6.5/4, s.SISA, 1e-12)
	// 单帧时每个位置的时间最大值就是它自己
	assert.InDelta(t, s.SISA, s.SIMA, 1e-12)

	assert.Equal(t, core.AlignmentScore{}, ComputeScores(&core.Heatmap{}))
}

func TestComputeMatchMask(t *testing.T) {
	h := &core.Heatmap{T: 1, H: 1, W: 5, Data: []float64{4.99, 5, 5.01, -10, 100}}
	m := ComputeMatchMask(h, 5)
	assert.Equal(t, []uint8{1, 0, 0, 1, 0}, m.Data)
	assert.Equal(t, 3, m.Matches())
	for i, v := range h.Data {
		assert.Equal(t, v >= 5, m.Data[i] == 0)
	}
}

func TestComputeHeatmap_DimensionMismatch(t *testing.T) {
	tests := []struct {
		name  string
		audio *tensor.Tensor
		image *tensor.Tensor
		shape core.Shape3
	}{
		{"embedding dim", tensor.New(3, 2), tensor.New(2, 4), core.Shape3{D: 2, H: 2, W: 2}},
		{"grid size", tensor.New(2, 2), tensor.New(2, 4), core.Shape3{D: 2, H: 3, W: 2}},
		{"shape dim", tensor.New(2, 2), tensor.New(2, 4), core.Shape3{D: 3, H: 2, W: 2}},
		{"not 2-D", tensor.New(1, 2, 2), tensor.New(2, 4), core.Shape3{D: 2, H: 2, W: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeHeatmap(tt.audio, tt.image, tt.shape)
			assert.True(t, core.IsDimensionMismatch(err), "got %v", err)
		})
	}
}

func newStubScorer(t *testing.T, opts ...Option) (*AlignmentScorer, *stubEncoder, *stubEncoder) {
	t.Helper()
	audio := &stubEncoder{name: "audio", out: tensor.MustFromData([]float32{1, 1, 1, 1}, 1, 2, 2)}
	img := &stubEncoder{name: "image", out: tensor.MustFromData([]float32{1, 1, 2, 2}, 1, 2, 1, 2)}
	opts = append([]Option{WithEncoders(audio, img), WithLogger(logging.Discard())}, opts...)
	s, err := NewAlignmentScorer(core.AlignmentConfig{}, opts...)
	require.NoError(t, err)
	return s, audio, img
}

func TestAlignmentScorer_Score(t *testing.T) {
	s, audio, img := newStubScorer(t)
	assert.Equal(t, 5.0, s.Threshold())

	res, err := s.Score(context.Background(), tensor.New(40, 128), rgb(300, 200))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 40, 128}, audio.inShape)
	assert.Equal(t, []int{1, 3, 256, 384}, img.inShape)
	assert.False(t, audio.grad, "audio encoder runs without recording")
	assert.False(t, img.grad, "image encoder runs without recording")

	assert.Equal(t, core.Shape3{D: 2, H: 1, W: 2}, res.ImageShape)
	assert.Equal(t, core.AlignmentScore{SISA: 3, MISA: 3, SIMA: 3}, res.Score)
	assert.Equal(t, []uint8{1, 1, 1, 1}, res.Mask.Data, "3 < 5 everywhere")
	assert.Equal(t, 5.0, res.Threshold)
}

func TestAlignmentScorer_ThresholdOption(t *testing.T) {
	s, _, _ := newStubScorer(t, WithThreshold(3))
	res, err := s.Score(context.Background(), tensor.New(40, 16), rgb(256, 256))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Mask.Matches())
}

func TestAlignmentScorer_RejectsGrayImage(t *testing.T) {
	s, _, img := newStubScorer(t)
	_, err := s.Score(context.Background(), tensor.New(40, 16), image.NewGray(image.Rect(0, 0, 8, 8)))
	assert.True(t, core.IsDimensionMismatch(err))
	assert.Zero(t, img.calls)
}

func TestAlignmentScorer_EmbeddingDimMismatch(t *testing.T) {
	s, audio, _ := newStubScorer(t)
	audio.out = tensor.New(1, 3, 2)
	_, err := s.Score(context.Background(), tensor.New(40, 16), rgb(256, 256))
	assert.True(t, core.IsDimensionMismatch(err))
}

func TestAlignmentScorer_EncoderFailure(t *testing.T) {
	s, _, img := newStubScorer(t)
	boom := errors.New("boom")
	img.err = boom
	_, err := s.Score(context.Background(), tensor.New(40, 16), rgb(256, 256))
	assert.ErrorIs(t, err, boom)

	_, err = s.ExtractAudioFeatures(context.Background(), tensor.New(40))
	assert.True(t, core.IsDimensionMismatch(err))
}

func TestAlignmentScorer_Cancelled(t *testing.T) {
	s, _, img := newStubScorer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Score(ctx, tensor.New(40, 16), rgb(256, 256))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, img.calls)
}

func TestNewAlignmentScorer_MissingWeights(t *testing.T) {
	dir := t.TempDir()
	_, err := NewAlignmentScorer(core.AlignmentConfig{
		AudioModelPath: filepath.Join(dir, "audio_model.pth"),
		ImageModelPath: filepath.Join(dir, "image_model.pth"),
	}, WithLogger(logging.Discard()))
	require.Error(t, err)
	assert.True(t, core.IsModelLoad(err))
}

func TestNewAlignmentScorer_RemoteAudioEncoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions/davenet_audio", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"shape": []int{1, 2, 3}, "data": []float32{1, 0, 2, 0, 1, 1}})
	}))
	defer srv.Close()

	img := &stubEncoder{name: "image", out: tensor.MustFromData([]float32{1, 2}, 1, 2, 1, 1)}
	s, err := NewAlignmentScorer(core.AlignmentConfig{AudioEndpoint: srv.URL + "/predictions/davenet_audio"},
		WithEncoders(nil, img), WithLogger(logging.Discard()))
	require.NoError(t, err)

	res, err := s.Score(context.Background(), tensor.New(40, 16), rgb(256, 256))
	require.NoError(t, err)
	// 帧得分 1*1+0*2, 0*1+1*2, 2*1+1*2
	assert.InDeltaSlice(t, []float64{1, 2, 4}, res.Heatmap.Data, 1e-9)
	assert.InDelta(t, 7.0/3, res.Score.MISA, 1e-9)
	assert.InDelta(t, 4, res.Score.SIMA, 1e-9)
}

func tinyVGG() model.VGGConfig {
	p := model.PoolMarker
	return model.VGGConfig{
		Layers:     []int{2, 2, p, 2, 2, p, 2, 2, 2, p, 2, 2, 2, p, 2, 2, 2, p},
		Hidden:     3,
		NumClasses: 4,
		PoolSize:   1,
	}
}

// writeCaffeVGG 以 Caffe 层名保存一个 tinyVGG，最后一层偏置为 bias。
func writeCaffeVGG(t *testing.T, bias []float32) string {
	t.Helper()
	net := model.NewVGG(tinyVGG())
	last, _ := net.Classifier.Get("6")
	copy(last.(*nn.Linear).Bias.Data(), bias)

	back := map[string]string{}
	for k, v := range model.VGG16CaffeLayerMap {
		back[v] = k
	}
	sd := weights.StateDict{}
	for name, p := range nn.Params(net) {
		i := strings.LastIndex(name, ".")
		sd[back[name[:i]]+name[i:]] = p.Clone()
	}
	var buf bytes.Buffer
	require.NoError(t, weights.WriteSafetensors(&buf, sd))
	path := filepath.Join(t.TempDir(), "places205_vgg16.safetensors")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestSceneClassifier_VGGPlaces(t *testing.T) {
	path := writeCaffeVGG(t, []float32{0.5, -1, 2, 0})
	tbl, err := labels.Parse(strings.NewReader("/a/abbey 0\n/b/bar 1\n/c/canyon 2\n/d/dock 3\n"))
	require.NoError(t, err)

	c, err := NewSceneClassifier(core.ClassifierConfig{ModelPath: path, InputSize: 32},
		WithBackboneOptions(model.WithVGGConfig(tinyVGG())), WithLabels(tbl), WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Equal(t, model.VariantVGG16Places, c.Variant())
	assert.True(t, c.HasBackbone())

	logits, err := c.Score(context.Background(), tensor.New(3, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2, 0}, logits.Data())

	res, err := c.Classify(context.Background(), rgb(64, 48))
	require.NoError(t, err)
	assert.Equal(t, 2, res.ClassIndex)
	assert.Equal(t, "canyon", res.Label)
	assert.Equal(t, "vgg16_places", res.Variant)
	assert.False(t, res.Missing)
}

func TestSceneClassifier_CorruptedLayerMap(t *testing.T) {
	path := writeCaffeVGG(t, make([]float32, 4))
	broken := model.CopyLayerMap()
	delete(broken, "conv3_2")

	c, err := NewSceneClassifier(core.ClassifierConfig{ModelPath: path},
		WithBackboneOptions(model.WithVGGConfig(tinyVGG())), WithLayerMap(broken), WithLogger(logging.Discard()))
	assert.Nil(t, c)
	assert.True(t, core.IsModelLoad(err))
}

func TestSceneClassifier_NoBackbone(t *testing.T) {
	for _, variant := range []string{"none", "resnet50"} {
		t.Run(variant, func(t *testing.T) {
			c, err := NewSceneClassifier(core.ClassifierConfig{Variant: variant}, WithLogger(logging.Discard()))
			require.NoError(t, err)
			assert.False(t, c.HasBackbone())

			out, err := c.Score(context.Background(), tensor.New(1, 3, 224, 224))
			assert.NoError(t, err)
			assert.Nil(t, out)

			res, err := c.Classify(context.Background(), rgb(8, 8))
			require.NoError(t, err)
			assert.True(t, res.Missing)
			assert.Equal(t, -1, res.ClassIndex)
		})
	}
}

func TestSceneClassifier_NoGrad(t *testing.T) {
	net := &stubNetwork{out: tensor.MustFromData([]float32{0, 3, 1}, 1, 3)}

	c, err := NewSceneClassifier(core.ClassifierConfig{}, WithNetwork(net), WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = c.Score(context.Background(), tensor.New(1, 3, 224, 224))
	require.NoError(t, err)
	assert.True(t, net.grad, "recording stays on by default")

	c, err = NewSceneClassifier(core.ClassifierConfig{}, WithNetwork(net), WithNoGrad(true), WithLogger(logging.Discard()))
	require.NoError(t, err)
	res, err := c.Classify(context.Background(), rgb(300, 300))
	require.NoError(t, err)
	assert.False(t, net.grad)
	assert.Equal(t, 1, res.ClassIndex)
	assert.Equal(t, []float32{0, 3, 1}, res.Logits)
	assert.Empty(t, res.Label)
}

func TestAlignmentNode(t *testing.T) {
	s, audio, _ := newStubScorer(t)
	ok := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: rgb(256, 256)})
	failed := core.NewEvaluation(&core.Sample{ID: "b", Mel: tensor.New(40, 16), Image: rgb(256, 256)})
	failed.Err = errors.New("decode wav")

	n := &AlignmentNode{Scorer: s}
	out, err := n.Process(context.Background(), &core.RunContext{}, []*core.Evaluation{ok, failed})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, audio.calls, "failed samples are skipped")

	require.NotNil(t, ok.Alignment)
	assert.Equal(t, 3.0, ok.Alignment.Score.MISA)
	lbl, found := ok.GetLabel("align_matches")
	require.True(t, found)
	assert.Equal(t, "0", lbl.Value)
	assert.Nil(t, failed.Alignment)
}

func TestAlignmentNode_ThresholdOverride(t *testing.T) {
	s, _, _ := newStubScorer(t)
	ev := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: rgb(256, 256)})

	_, err := (&AlignmentNode{Scorer: s, Threshold: 4}).Process(context.Background(), nil, []*core.Evaluation{ev})
	require.NoError(t, err)
	require.NotNil(t, ev.Alignment)
	assert.Equal(t, 4.0, ev.Alignment.Threshold)
	assert.Equal(t, 4, ev.Alignment.Mask.Matches(), "3 < 4 everywhere")
	assert.Equal(t, 3.0, ev.Alignment.Score.SISA, "scores do not depend on the threshold")
	lbl, _ := ev.GetLabel("align_matches")
	assert.Equal(t, "4", lbl.Value)
	assert.Equal(t, 5.0, s.Threshold(), "scorer threshold is untouched")
}

func TestAlignmentNode_RecordsSampleError(t *testing.T) {
	s, audio, _ := newStubScorer(t)
	audio.err = errors.New("boom")
	ev := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: rgb(256, 256)})

	out, err := (&AlignmentNode{Scorer: s}).Process(context.Background(), nil, []*core.Evaluation{ev})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.ErrorContains(t, ev.Err, "boom")
}

func TestAlignmentNode_Cancelled(t *testing.T) {
	s, _, _ := newStubScorer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev := core.NewEvaluation(&core.Sample{ID: "a", Mel: tensor.New(40, 16), Image: rgb(256, 256)})
	_, err := (&AlignmentNode{Scorer: s}).Process(ctx, nil, []*core.Evaluation{ev})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSceneNode(t *testing.T) {
	net := &stubNetwork{out: tensor.MustFromData([]float32{0, 3, 1}, 1, 3)}
	c, err := NewSceneClassifier(core.ClassifierConfig{}, WithNetwork(net), WithLogger(logging.Discard()))
	require.NoError(t, err)

	ev := core.NewEvaluation(&core.Sample{ID: "a", Image: rgb(300, 300)})
	_, err = (&SceneNode{Classifier: c}).Process(context.Background(), nil, []*core.Evaluation{ev})
	require.NoError(t, err)
	require.NotNil(t, ev.Scene)
	assert.Equal(t, 1, ev.Scene.ClassIndex)
	lbl, _ := ev.GetLabel("scene_variant")
	assert.Equal(t, "vgg16_places", lbl.Value)

	none, err := NewSceneClassifier(core.ClassifierConfig{Variant: "none"}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	ev = core.NewEvaluation(&core.Sample{ID: "b", Image: rgb(8, 8)})
	_, err = (&SceneNode{Classifier: none}).Process(context.Background(), nil, []*core.Evaluation{ev})
	require.NoError(t, err)
	assert.True(t, ev.Scene.Missing)
	_, found := ev.GetLabel("scene_missing")
	assert.True(t, found)
}
