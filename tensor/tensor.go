// Package tensor 提供推理所需的最小稠密张量：行优先（row-major）存储的 float32 数据 + 形状。
//
// 张量一旦交给网络前向或打分流程就视为只读；需要修改时请先 Clone。
package tensor

import (
	"fmt"
	"strings"
)

// Tensor 是 float32 稠密张量，数据按行优先存储。
type Tensor struct {
	shape []int
	data  []float32
}

// New 按形状创建全零张量。
func New(shape ...int) *Tensor {
	n := Numel(shape)
	return &Tensor{shape: cloneInts(shape), data: make([]float32, n)}
}

// FromData 用已有数据创建张量（不拷贝），数据长度必须与形状匹配。
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if n := Numel(shape); n != len(data) {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %s (%d elements)", len(data), FormatShape(shape), n)
	}
	return &Tensor{shape: cloneInts(shape), data: data}, nil
}

// MustFromData 同 FromData，形状不匹配时 panic，主要用于测试和常量。
func MustFromData(data []float32, shape ...int) *Tensor {
	t, err := FromData(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFloat64 将 float64 数据转换为张量。
func FromFloat64(data []float64, shape ...int) (*Tensor, error) {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return FromData(out, shape...)
}

// Numel 计算形状对应的元素个数；空形状表示标量（1 个元素）。
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) Shape() []int    { return cloneInts(t.shape) }
func (t *Tensor) NDim() int       { return len(t.shape) }
func (t *Tensor) Len() int        { return len(t.data) }
func (t *Tensor) Data() []float32 { return t.data }

// Dim 返回第 i 维的大小，支持负数索引。
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Strides 返回行优先步长。
func (t *Tensor) Strides() []int {
	strides := make([]int, len(t.shape))
	s := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= t.shape[i]
	}
	return strides
}

// At 读取指定下标的元素。
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set 写入指定下标的元素。
func (t *Tensor) Set(v float32, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match shape %s", len(idx), FormatShape(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %s", idx, FormatShape(t.shape)))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// Clone 深拷贝。
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: cloneInts(t.shape), data: data}
}

// Reshape 返回共享数据的新视图；允许一个维度为 -1 自动推断。
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = cloneInts(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				return nil, fmt.Errorf("tensor: reshape %s has more than one -1", FormatShape(shape))
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, fmt.Errorf("tensor: cannot reshape %s into %s", FormatShape(t.shape), FormatShape(shape))
		}
		shape[infer] = len(t.data) / known
	}
	if Numel(shape) != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape %s into %s", FormatShape(t.shape), FormatShape(shape))
	}
	return &Tensor{shape: shape, data: t.data}, nil
}

// Unsqueeze 在 axis 处插入大小为 1 的维度（共享数据）。
func (t *Tensor) Unsqueeze(axis int) *Tensor {
	if axis < 0 {
		axis += len(t.shape) + 1
	}
	shape := make([]int, 0, len(t.shape)+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	return &Tensor{shape: shape, data: t.data}
}

// Squeeze 去掉 axis 处大小为 1 的维度（共享数据）。
func (t *Tensor) Squeeze(axis int) (*Tensor, error) {
	if axis < 0 {
		axis += len(t.shape)
	}
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("tensor: squeeze axis %d out of range for %s", axis, FormatShape(t.shape))
	}
	if t.shape[axis] != 1 {
		return nil, fmt.Errorf("tensor: cannot squeeze axis %d of %s", axis, FormatShape(t.shape))
	}
	shape := make([]int, 0, len(t.shape)-1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, t.shape[axis+1:]...)
	return &Tensor{shape: shape, data: t.data}, nil
}

// Permute 按 perm 重排维度，返回新张量（拷贝数据）。
func (t *Tensor) Permute(perm ...int) (*Tensor, error) {
	if len(perm) != len(t.shape) {
		return nil, fmt.Errorf("tensor: permute %v does not match rank of %s", perm, FormatShape(t.shape))
	}
	seen := make([]bool, len(perm))
	newShape := make([]int, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, fmt.Errorf("tensor: invalid permutation %v", perm)
		}
		seen[p] = true
		newShape[i] = t.shape[p]
	}

	out := New(newShape...)
	srcStrides := t.Strides()
	idx := make([]int, len(newShape))
	for o := range out.data {
		src := 0
		for i, v := range idx {
			src += v * srcStrides[perm[i]]
		}
		out.data[o] = t.data[src]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < newShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// Float64 返回 float64 拷贝，用于交给 gonum 做矩阵运算。
func (t *Tensor) Float64() []float64 {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = float64(v)
	}
	return out
}

// SameShape 判断两个形状是否完全一致。
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FormatShape 把形状格式化为 (a, b, c)。
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (t *Tensor) String() string {
	return "Tensor" + FormatShape(t.shape)
}

func cloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
