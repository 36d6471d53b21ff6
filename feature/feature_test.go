package feature

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/tensor"
)

func sine(freq float64, sr, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sr))
	}
	return out
}

func TestMelSpectrogram_PadToTarget(t *testing.T) {
	cfg := DefaultMelConfig()
	mel, frames, err := MelSpectrogram(sine(1000, 16000, 16000), 16000, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{40, 1024}, mel.Shape())
	assert.Equal(t, 101, frames)

	maxV, minV := float32(math.Inf(-1)), float32(math.Inf(1))
	for m := 0; m < 40; m++ {
		for f := 0; f < frames; f++ {
			v := mel.At(m, f)
			maxV = max(maxV, v)
			minV = min(minV, v)
		}
		for f := frames; f < 1024; f++ {
			require.Equal(t, float32(0), mel.At(m, f), "padding at (%d,%d)", m, f)
		}
	}
	assert.InDelta(t, 0, maxV, 1e-4)
	assert.GreaterOrEqual(t, minV, float32(-80.001))

	// 1kHz 正弦的能量集中在中心频率最接近 1kHz 的梅尔带
	peak := 0
	for m := 1; m < 40; m++ {
		if mel.At(m, 50) > mel.At(peak, 50) {
			peak = m
		}
	}
	assert.Equal(t, 12, peak)
}

func TestMelSpectrogram_RawLength(t *testing.T) {
	cfg := DefaultMelConfig()
	cfg.UseRawLength = true
	mel, frames, err := MelSpectrogram(sine(440, 16000, 8000), 16000, cfg)
	require.NoError(t, err)
	assert.Equal(t, 51, frames)
	assert.Equal(t, []int{40, 51}, mel.Shape())
}

func TestMelSpectrogram_TrimAndEmpty(t *testing.T) {
	cfg := DefaultMelConfig()
	cfg.TargetLength = 10
	mel, frames, err := MelSpectrogram(sine(440, 16000, 16000), 16000, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{40, 10}, mel.Shape())
	assert.Equal(t, 10, frames)

	mel, frames, err = MelSpectrogram(nil, 16000, DefaultMelConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, frames)
	assert.Equal(t, []int{40, 1024}, mel.Shape())
}

func TestMelSpectrogram_DoesNotMutateInput(t *testing.T) {
	in := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cp := append([]float64(nil), in...)
	_, _, err := MelSpectrogram(in, 16000, DefaultMelConfig())
	require.NoError(t, err)
	assert.Equal(t, cp, in)
}

func TestMelSpectrogram_InvalidConfig(t *testing.T) {
	cfg := DefaultMelConfig()
	cfg.NumMelBins = 0
	_, _, err := MelSpectrogram([]float64{1}, 16000, cfg)
	assert.Error(t, err)

	_, _, err = MelSpectrogram([]float64{1}, 0, DefaultMelConfig())
	assert.Error(t, err)
}

func TestPreemphasis(t *testing.T) {
	assert.Nil(t, Preemphasis(nil, 0.97))
	got := Preemphasis([]float64{1, 2, 3}, 0.5)
	assert.InDeltaSlice(t, []float64{1, 1.5, 2}, got, 1e-12)
}

func TestHammingWindow(t *testing.T) {
	w := HammingWindow(400)
	require.Len(t, w, 400)
	assert.InDelta(t, 0.08, w[0], 1e-12)
	assert.InDelta(t, 0.08, w[399], 1e-12)
	assert.InDelta(t, w[10], w[389], 1e-12)
	assert.Equal(t, []float64{1}, HammingWindow(1))
}

func TestReflectIndex(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 1},
		{-2, 5, 2},
		{5, 5, 3},
		{6, 5, 2},
		{-7, 5, 1},
		{3, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reflectIndex(tt.i, tt.n), "reflectIndex(%d, %d)", tt.i, tt.n)
	}
}

func TestMelScaleRoundTrip(t *testing.T) {
	assert.InDelta(t, 15, HzToMel(1000), 1e-9)
	for _, hz := range []float64{20, 300, 999, 1000, 4000, 8000} {
		assert.InDelta(t, hz, MelToHz(HzToMel(hz)), 1e-6)
	}
}

func TestMelFilterBank(t *testing.T) {
	bank := MelFilterBank(16000, 400, 40, 20, 8000)
	require.Len(t, bank, 40)
	prevPeak := -1
	for m, row := range bank {
		require.Len(t, row, 201)
		peak := 0
		for k, v := range row {
			require.GreaterOrEqual(t, v, 0.0)
			if v > row[peak] {
				peak = k
			}
		}
		assert.Greater(t, row[peak], 0.0, "filter %d is empty", m)
		assert.GreaterOrEqual(t, peak, prevPeak)
		prevPeak = peak
	}
}

func TestPowerToDB(t *testing.T) {
	s := []float64{1, 0.1, 1e-20}
	PowerToDB(s, 80)
	assert.InDeltaSlice(t, []float64{0, -10, -80}, s, 1e-9)

	s = []float64{1, 1e-20}
	PowerToDB(s, 0)
	assert.InDelta(t, -100, s[1], 1e-9)
}

func TestResample(t *testing.T) {
	y := []float64{0, 1, 2, 3}
	assert.Equal(t, y, Resample(y, 8000, 8000))

	up := Resample(y, 8000, 16000)
	require.Len(t, up, 8)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}, up, 1e-12)

	down := Resample(make([]float64, 44100), 44100, 16000)
	assert.Len(t, down, 16000)
}

func TestImageTransform_ShortSide(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 512, 300))
	out, err := DefaultImageTransform().Apply(img)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 256, 436}, out.Shape())

	tall := image.NewRGBA(image.Rect(0, 0, 256, 400))
	out, err = DefaultImageTransform().Apply(tall)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 400, 256}, out.Shape())
}

func TestImageTransform_Classifier(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 300, 200))
	out, err := ClassifierTransform(224).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 224, 224}, out.Shape())
}

func TestImageTransform_RejectsSingleChannel(t *testing.T) {
	_, err := DefaultImageTransform().Apply(image.NewGray(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.True(t, core.IsDimensionMismatch(err))
}

func TestToTensorAndNormalize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	img.Set(1, 0, color.RGBA{R: 0, G: 255, B: 0, A: 255})

	x := ToTensor(img)
	assert.Equal(t, []int{3, 1, 2}, x.Shape())
	assert.InDelta(t, 1, x.At(0, 0, 0), 1e-6)
	assert.InDelta(t, 0.2, x.At(2, 0, 0), 1e-6)
	assert.InDelta(t, 1, x.At(1, 0, 1), 1e-6)

	n := NewZScoreNormalizer([]float64{0.5, 0.5, 0.5}, []float64{0.5, 0.25, 0})
	require.NoError(t, n.Normalize(x))
	assert.InDelta(t, 1, x.At(0, 0, 0), 1e-6)
	assert.InDelta(t, -2, x.At(1, 0, 0), 1e-6)
	assert.InDelta(t, 2, x.At(1, 0, 1), 1e-6)
	// std 为 0 的通道原样保留
	assert.InDelta(t, 0.2, x.At(2, 0, 0), 1e-6)
}

func TestNormalize_ShapeMismatch(t *testing.T) {
	n := NewZScoreNormalizer(ImageNetMean, ImageNetStd)
	assert.Error(t, n.Normalize(tensor.New(1, 2, 2)))
	assert.Error(t, n.Normalize(tensor.New(3, 4)))
}
