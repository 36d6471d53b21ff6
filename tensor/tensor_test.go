package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReshapeSharesData(t *testing.T) {
	x := MustFromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)

	y, err := x.Reshape(3, -1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, y.Shape())

	y.Data()[0] = 42
	assert.Equal(t, float32(42), x.At(0, 0))

	_, err = x.Reshape(4, -1)
	assert.Error(t, err)
	_, err = x.Reshape(-1, -1)
	assert.Error(t, err)
}

func TestSqueezeUnsqueeze(t *testing.T) {
	x := New(2, 3)
	u := x.Unsqueeze(0).Unsqueeze(0)
	assert.Equal(t, []int{1, 1, 2, 3}, u.Shape())

	s, err := u.Squeeze(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, s.Shape())

	_, err = s.Squeeze(1)
	assert.Error(t, err, "axis 1 has size 2")
}

func TestPermute(t *testing.T) {
	// (2, 3) 转置
	x := MustFromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y, err := x.Permute(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, y.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, y.Data())

	// HWIO -> OIHW
	h, w, i, o := 2, 1, 2, 3
	hwio := New(h, w, i, o)
	for a := 0; a < h; a++ {
		for b := 0; b < w; b++ {
			for c := 0; c < i; c++ {
				for d := 0; d < o; d++ {
					hwio.Set(float32(a*1000+b*100+c*10+d), a, b, c, d)
				}
			}
		}
	}
	oihw, err := hwio.Permute(3, 2, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{o, i, h, w}, oihw.Shape())
	assert.Equal(t, float32(1012), oihw.At(2, 1, 1, 0))

	_, err = x.Permute(0, 0)
	assert.Error(t, err)
}

func TestFromDataLengthMismatch(t *testing.T) {
	_, err := FromData([]float32{1, 2, 3}, 2, 2)
	assert.Error(t, err)
}
