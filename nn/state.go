package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rushteam/alignkit/tensor"
)

// Params 按 state_dict 命名收集模块的全部参数（返回的是参数本身，不是拷贝）。
func Params(m Module) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	m.VisitParams("", func(name string, p *tensor.Tensor) {
		out[name] = p
	})
	return out
}

// ParamNames 返回排序后的参数名。
func ParamNames(m Module) []string {
	params := Params(m)
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BindError 描述 state_dict 与网络结构不兼容的细节。
type BindError struct {
	Missing    []string
	Unexpected []string
	Mismatched []string
}

func (e *BindError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing keys %v", e.Missing))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected keys %v", e.Unexpected))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("shape mismatch %v", e.Mismatched))
	}
	return "state dict incompatible: " + strings.Join(parts, "; ")
}

// Bind 把 state 中的张量拷贝进模块参数。
// strict 为 true 时，缺失、多余或形状不一致的 key 都会导致失败且模块参数保持不变。
// 元素个数相同但形状不同（如 (out,in,1,1) 与 (out,in)）的情况视为不兼容。
func Bind(m Module, state map[string]*tensor.Tensor, strict bool) error {
	params := Params(m)
	bindErr := &BindError{}

	for name, p := range params {
		src, ok := state[name]
		if !ok {
			bindErr.Missing = append(bindErr.Missing, name)
			continue
		}
		if !tensor.SameShape(p.Shape(), src.Shape()) {
			bindErr.Mismatched = append(bindErr.Mismatched,
				fmt.Sprintf("%s: want %s got %s", name, tensor.FormatShape(p.Shape()), tensor.FormatShape(src.Shape())))
		}
	}
	for name := range state {
		if _, ok := params[name]; !ok {
			bindErr.Unexpected = append(bindErr.Unexpected, name)
		}
	}
	sort.Strings(bindErr.Missing)
	sort.Strings(bindErr.Unexpected)
	sort.Strings(bindErr.Mismatched)

	if len(bindErr.Mismatched) > 0 || (strict && (len(bindErr.Missing) > 0 || len(bindErr.Unexpected) > 0)) {
		return bindErr
	}

	for name, p := range params {
		if src, ok := state[name]; ok {
			copy(p.Data(), src.Data())
		}
	}
	return nil
}
