// Package weights 负责预训练权重文件的读取与 key 翻译。
//
// 支持的格式：
//   - .safetensors：PyTorch 导出的 state_dict（推荐）
//   - .npz：NumPy 归档（Caffe 转换工具导出的权重常见于此格式）
//   - .npy：单个数组
//
// 所有格式都读成 StateDict（参数名 -> 张量），再通过 LoadInto 翻译 key 后绑定到网络。
package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
)

// StateDict 是参数名到张量的映射，对应 PyTorch 的 state_dict。
type StateDict map[string]*tensor.Tensor

// Load 按扩展名读取权重文件。文件不存在或格式损坏都返回 MODEL_LOAD 错误。
func Load(path string) (StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.NewModelLoadError(core.ModuleWeights, err, "open weights %s", path)
	}
	defer f.Close()

	var sd StateDict
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".safetensors", ".st":
		sd, err = ReadSafetensors(f)
	case ".npz":
		info, statErr := f.Stat()
		if statErr != nil {
			return nil, core.NewModelLoadError(core.ModuleWeights, statErr, "stat weights %s", path)
		}
		sd, err = ReadNpz(f, info.Size())
	case ".npy":
		var t *tensor.Tensor
		t, err = ReadNpy(f)
		if err == nil {
			sd = StateDict{strings.TrimSuffix(filepath.Base(path), ext): t}
		}
	default:
		return nil, core.NewModelLoadError(core.ModuleWeights, nil, "unsupported weight format %q (%s)", ext, path)
	}
	if err != nil {
		return nil, core.NewModelLoadError(core.ModuleWeights, err, "read weights %s", path)
	}
	return sd, nil
}

// Replace 翻译单个参数 key：在最后一个 "." 处切分出层名，查表替换后拼回参数名。
//
//	Replace("conv1_1.weight", map[string]string{"conv1_1": "features.0"}) == "features.0.weight"
//
// 层名不在表中、或 key 中没有 "." 时返回错误。
func Replace(key string, mapping map[string]string) (string, error) {
	i := strings.LastIndex(key, ".")
	if i <= 0 {
		return "", fmt.Errorf("weight key %q has no layer prefix", key)
	}
	layer, param := key[:i], key[i:]
	mapped, ok := mapping[layer]
	if !ok {
		return "", fmt.Errorf("weight key %q: layer %q not in mapping", key, layer)
	}
	return mapped + param, nil
}

// Remap 对 state dict 的每个 key 执行 Replace，任一 key 失败即整体失败。
func Remap(sd StateDict, mapping map[string]string) (StateDict, error) {
	out := make(StateDict, len(sd))
	for _, key := range sd.Keys() {
		newKey, err := Replace(key, mapping)
		if err != nil {
			return nil, err
		}
		if _, dup := out[newKey]; dup {
			return nil, fmt.Errorf("weight key %q maps onto duplicate %q", key, newKey)
		}
		out[newKey] = sd[key]
	}
	return out, nil
}

// Transform 在绑定前改写单个条目（改名、转置等）；返回空 name 表示丢弃该条目。
type Transform func(name string, t *tensor.Tensor) (string, *tensor.Tensor, error)

type loadOptions struct {
	keyMap      map[string]string
	stripPrefix []string
	transforms  []Transform
	strict      bool
}

// LoadOption 配置 LoadInto。
type LoadOption func(*loadOptions)

// WithKeyMap 使用层名映射表翻译每个 key（见 Replace）。
func WithKeyMap(mapping map[string]string) LoadOption {
	return func(o *loadOptions) { o.keyMap = mapping }
}

// WithStripPrefix 去掉 key 的前缀（如 DataParallel 保存时带的 "module."）。
func WithStripPrefix(prefixes ...string) LoadOption {
	return func(o *loadOptions) { o.stripPrefix = append(o.stripPrefix, prefixes...) }
}

// WithTransform 追加一个条目改写函数，按添加顺序执行。
func WithTransform(t Transform) LoadOption {
	return func(o *loadOptions) { o.transforms = append(o.transforms, t) }
}

// WithNonStrict 允许缺失或多余的 key（形状不一致仍然失败）。
func WithNonStrict() LoadOption {
	return func(o *loadOptions) { o.strict = false }
}

// Translate 按选项翻译 state dict 的 key，不绑定网络，便于检查。
func Translate(sd StateDict, opts ...LoadOption) (StateDict, error) {
	o := &loadOptions{strict: true}
	for _, opt := range opts {
		opt(o)
	}
	return o.translate(sd)
}

func (o *loadOptions) translate(sd StateDict) (StateDict, error) {
	out := make(StateDict, len(sd))
	for _, key := range sd.Keys() {
		name, t := key, sd[key]
		for _, p := range o.stripPrefix {
			name = strings.TrimPrefix(name, p)
		}
		if o.keyMap != nil {
			mapped, err := Replace(name, o.keyMap)
			if err != nil {
				return nil, err
			}
			name = mapped
		}
		for _, tr := range o.transforms {
			var err error
			name, t, err = tr(name, t)
			if err != nil {
				return nil, fmt.Errorf("transform %q: %w", key, err)
			}
			if name == "" {
				break
			}
		}
		if name == "" {
			continue
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("weight key %q maps onto duplicate %q", key, name)
		}
		out[name] = t
	}
	return out, nil
}

// LoadInto 是通用的“带 key 翻译的权重加载”：翻译 key 后绑定到 m 的参数。
// 与具体网络结构无关；任何失败都是 MODEL_LOAD 错误，且 m 的参数保持不变。
func LoadInto(m nn.Module, sd StateDict, opts ...LoadOption) error {
	o := &loadOptions{strict: true}
	for _, opt := range opts {
		opt(o)
	}
	translated, err := o.translate(sd)
	if err != nil {
		return core.NewModelLoadError(core.ModuleWeights, err, "translate weight keys")
	}
	if err := nn.Bind(m, translated, o.strict); err != nil {
		return core.NewModelLoadError(core.ModuleWeights, err, "bind weights")
	}
	return nil
}

// LoadFile 组合 Load 与 LoadInto。
func LoadFile(m nn.Module, path string, opts ...LoadOption) error {
	sd, err := Load(path)
	if err != nil {
		return err
	}
	if err := LoadInto(m, sd, opts...); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
