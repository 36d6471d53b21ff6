package weights

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
)

func sampleState() StateDict {
	return StateDict{
		"conv1_1.weight": tensor.MustFromData([]float32{1, 2, 3, 4}, 2, 2),
		"conv1_1.bias":   tensor.MustFromData([]float32{-1.5, 0.25}, 2),
		"fc8.weight":     tensor.MustFromData([]float32{7}, 1),
	}
}

func TestSafetensorsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSafetensors(&buf, sampleState()))
	headerLen := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	assert.Zero(t, headerLen%8)

	sd, err := ReadSafetensors(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv1_1.bias", "conv1_1.weight", "fc8.weight"}, sd.Keys())
	assert.Equal(t, []int{2, 2}, sd["conv1_1.weight"].Shape())
	assert.Equal(t, []float32{-1.5, 0.25}, sd["conv1_1.bias"].Data())
}

func TestReadSafetensorsRejectsBadHeader(t *testing.T) {
	_, err := ReadSafetensors(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0}))
	assert.Error(t, err)

	var buf bytes.Buffer
	header := []byte(`{"a":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.Write(header)
	buf.Write(make([]byte, 8))
	_, err = ReadSafetensors(&buf)
	assert.ErrorContains(t, err, "outside body")
}

func TestHalfToFloat(t *testing.T) {
	tests := []struct {
		in   uint16
		want float32
	}{
		{0x3c00, 1},
		{0xc000, -2},
		{0x3800, 0.5},
		{0x0001, 5.9604645e-08},
		{0x0000, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, halfToFloat(tt.in), "0x%04x", tt.in)
	}
}

func TestNpzRoundTrip(t *testing.T) {
	sd := StateDict{
		"conv1/7x7_s2/weights": tensor.MustFromData([]float32{1, 2, 3, 4, 5, 6}, 1, 1, 2, 3),
		"conv1/7x7_s2/biases":  tensor.MustFromData([]float32{9}, 1),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteNpz(&buf, sd))

	got, err := ReadNpz(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, sd.Keys(), got.Keys())
	assert.Equal(t, []int{1, 1, 2, 3}, got["conv1/7x7_s2/weights"].Shape())
	assert.Equal(t, []float32{9}, got["conv1/7x7_s2/biases"].Data())
}

func TestParseNpyHeader(t *testing.T) {
	descr, shape, err := parseNpyHeader("{'descr': '<f8', 'fortran_order': False, 'shape': (3,), }")
	require.NoError(t, err)
	assert.Equal(t, "<f8", descr)
	assert.Equal(t, []int{3}, shape)

	_, shape, err = parseNpyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (), }")
	require.NoError(t, err)
	assert.Empty(t, shape)

	_, _, err = parseNpyHeader("{'descr': '<f4', 'fortran_order': True, 'shape': (2, 2), }")
	assert.Error(t, err)
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	var st bytes.Buffer
	require.NoError(t, WriteSafetensors(&st, sampleState()))
	stPath := filepath.Join(dir, "vgg.safetensors")
	require.NoError(t, os.WriteFile(stPath, st.Bytes(), 0o644))
	sd, err := Load(stPath)
	require.NoError(t, err)
	assert.Len(t, sd, 3)

	var npz bytes.Buffer
	require.NoError(t, WriteNpz(&npz, sampleState()))
	npzPath := filepath.Join(dir, "vgg.npz")
	require.NoError(t, os.WriteFile(npzPath, npz.Bytes(), 0o644))
	sd, err = Load(npzPath)
	require.NoError(t, err)
	assert.Len(t, sd, 3)

	_, err = Load(filepath.Join(dir, "missing.safetensors"))
	assert.True(t, core.IsModelLoad(err))

	badPath := filepath.Join(dir, "weights.pth")
	require.NoError(t, os.WriteFile(badPath, []byte("x"), 0o644))
	_, err = Load(badPath)
	assert.True(t, core.IsModelLoad(err))

	corrupt := filepath.Join(dir, "corrupt.safetensors")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a weight file"), 0o644))
	_, err = Load(corrupt)
	assert.True(t, core.IsModelLoad(err))
}

func TestReplace(t *testing.T) {
	mapping := map[string]string{"conv1_1": "features.0", "fc6": "classifier.0"}
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "conv1_1.weight", want: "features.0.weight"},
		{key: "fc6.bias", want: "classifier.0.bias"},
		{key: "conv9_9.weight", wantErr: true},
		{key: "weight", wantErr: true},
		{key: ".weight", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := Replace(tt.key, mapping)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemap(t *testing.T) {
	mapping := map[string]string{"conv1_1": "features.0", "fc8": "classifier.6"}
	out, err := Remap(sampleState(), mapping)
	require.NoError(t, err)
	assert.Equal(t, []string{"classifier.6.weight", "features.0.bias", "features.0.weight"}, out.Keys())

	delete(mapping, "fc8")
	_, err = Remap(sampleState(), mapping)
	assert.ErrorContains(t, err, `"fc8"`)

	_, err = Remap(sampleState(), map[string]string{"conv1_1": "x", "fc8": "x"})
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadInto(t *testing.T) {
	newNet := func() *nn.Sequential {
		return nn.NewSequential(nn.NewConv2d(1, 2, 1, 1), nn.ReLU{})
	}
	sd := StateDict{
		"module.conv.weight": tensor.MustFromData([]float32{2, 3}, 2, 1, 1, 1),
		"module.conv.bias":   tensor.MustFromData([]float32{0, 1}, 2),
	}

	net := newNet()
	err := LoadInto(net, sd, WithStripPrefix("module."), WithKeyMap(map[string]string{"conv": "0"}))
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, nn.Params(net)["0.weight"].Data())

	net = newNet()
	err = LoadInto(net, sd, WithKeyMap(map[string]string{"conv": "0"}))
	assert.True(t, core.IsModelLoad(err), "prefix not stripped leaves unmapped layer")
	assert.Equal(t, []float32{0, 0}, nn.Params(net)["0.weight"].Data(), "failed load leaves parameters untouched")

	net = newNet()
	drop := func(name string, t *tensor.Tensor) (string, *tensor.Tensor, error) {
		if name == "0.bias" {
			return "", nil, nil
		}
		return name, t, nil
	}
	opts := []LoadOption{WithStripPrefix("module."), WithKeyMap(map[string]string{"conv": "0"}), WithTransform(drop)}
	assert.True(t, core.IsModelLoad(LoadInto(net, sd, opts...)), "strict load reports missing bias")
	require.NoError(t, LoadInto(net, sd, append(opts, WithNonStrict())...))
}
