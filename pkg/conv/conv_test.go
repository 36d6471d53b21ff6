package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{3, 3, true},
		{int64(4), 4, true},
		{int32(5), 5, true},
		{true, 1, true},
		{false, 0, true},
		{"6", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat64(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestSliceAnyToString(t *testing.T) {
	assert.Equal(t, []string{"a", "42"}, SliceAnyToString([]any{"a", 42, map[string]any{}}))
	assert.Nil(t, SliceAnyToString("a"))
	assert.Nil(t, SliceAnyToString(nil))
}

func TestSliceAnyToMaps(t *testing.T) {
	got := SliceAnyToMaps([]any{map[string]any{"type": "failed"}, "x"})
	assert.Equal(t, []map[string]any{{"type": "failed"}}, got)
	assert.Nil(t, SliceAnyToMaps(nil))
}

func TestConfigGet(t *testing.T) {
	cfg := map[string]any{"expr": "score.misa > 3", "display": false, "ttl": 60, "threshold": 5, "ratio": 0.5}
	assert.Equal(t, "score.misa > 3", ConfigGet(cfg, "expr", ""))
	assert.Equal(t, false, ConfigGet(cfg, "display", true))
	assert.Equal(t, true, ConfigGet(cfg, "missing", true))
	assert.Equal(t, "", ConfigGet(cfg, "ttl", ""))
	assert.Equal(t, int64(60), ConfigGetInt64(cfg, "ttl", 0))
	assert.Equal(t, int64(0), ConfigGetInt64(cfg, "ratio", 7))
	assert.Equal(t, int64(7), ConfigGetInt64(nil, "ttl", 7))
	assert.Equal(t, 5.0, ConfigGetFloat64(cfg, "threshold", 0))
	assert.Equal(t, 0.5, ConfigGetFloat64(cfg, "ratio", 0))
	assert.Equal(t, 1.0, ConfigGetFloat64(cfg, "missing", 1))
}

func TestNormalizeNumbers(t *testing.T) {
	got := NormalizeNumbers(map[string]any{"a": 3, "b": 2.5, "c": "x"})
	assert.Equal(t, map[string]any{"a": 3.0, "b": 2.5, "c": "x"}, got)
	assert.Nil(t, NormalizeNumbers(nil))
}
