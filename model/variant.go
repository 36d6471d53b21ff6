package model

import (
	"fmt"
	"strings"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/weights"
)

// Variant 是场景分类器的骨干选择。
type Variant int

const (
	// VariantNone 表示没有可用骨干，分类器打分返回空结果。
	VariantNone Variant = iota
	// VariantGoogLeNet 是 GoogLeNet Places205，权重按名字直接加载。
	VariantGoogLeNet
	// VariantGoogLeNetCaffe 是同一结构，权重为 Caffe 导出的 .npz，加载器内部转换。
	VariantGoogLeNetCaffe
	// VariantVGG16Places 是 205 类 VGG16，权重以 Caffe 层名保存，加载前经层名映射翻译。
	VariantVGG16Places
)

// DefaultVariant 是未指定时使用的骨干。
const DefaultVariant = VariantVGG16Places

var variantNames = map[Variant]string{
	VariantNone:           "none",
	VariantGoogLeNet:      "googlenet",
	VariantGoogLeNetCaffe: "googlenet_caffe",
	VariantVGG16Places:    "vgg16_places",
}

// variantAliases 兼容历史配置中的模型名。
var variantAliases = map[string]Variant{
	"googlenetplaces205":            VariantGoogLeNet,
	"googlenetplaces205caffe":       VariantGoogLeNetCaffe,
	"googlenetplaces205caffenikhil": VariantVGG16Places,
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// ParseVariant 解析骨干名（大小写不敏感），空串返回 DefaultVariant。
// 无法识别的名字返回 VariantNone 和错误。
func ParseVariant(name string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return DefaultVariant, nil
	}
	for v, n := range variantNames {
		if n == key {
			return v, nil
		}
	}
	if v, ok := variantAliases[key]; ok {
		return v, nil
	}
	return VariantNone, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
		fmt.Sprintf("unknown classifier variant %q", name))
}

// BackboneOptions 控制骨干结构与权重翻译。
type BackboneOptions struct {
	LayerMap  map[string]string
	VGG       VGGConfig
	GoogLeNet GoogLeNetConfig
}

// BackboneOption 配置 LoadBackbone。
type BackboneOption func(*BackboneOptions)

// WithLayerMap 替换 VGG16 的层名映射表。
func WithLayerMap(m map[string]string) BackboneOption {
	return func(o *BackboneOptions) { o.LayerMap = m }
}

// WithVGGConfig 替换 VGG 结构。
func WithVGGConfig(cfg VGGConfig) BackboneOption {
	return func(o *BackboneOptions) { o.VGG = cfg }
}

// WithGoogLeNetConfig 替换 GoogLeNet 结构。
func WithGoogLeNetConfig(cfg GoogLeNetConfig) BackboneOption {
	return func(o *BackboneOptions) { o.GoogLeNet = cfg }
}

// LoadBackbone 读取权重文件并构建对应骨干，结果处于评估模式。
// VariantNone 返回 (nil, nil)；其余情况的失败都是 MODEL_LOAD 错误。
func LoadBackbone(v Variant, path string, opts ...BackboneOption) (Network, error) {
	if v == VariantNone {
		return nil, nil
	}
	o := &BackboneOptions{
		LayerMap:  VGG16CaffeLayerMap,
		VGG:       VGG16Config(),
		GoogLeNet: GoogLeNetPlaces205Config(),
	}
	for _, opt := range opts {
		opt(o)
	}

	sd, err := weights.Load(path)
	if err != nil {
		return nil, err
	}

	var net Network
	switch v {
	case VariantGoogLeNet:
		net, err = LoadGoogLeNet(sd, o.GoogLeNet)
	case VariantGoogLeNetCaffe:
		net, err = LoadGoogLeNetCaffe(sd, o.GoogLeNet)
	case VariantVGG16Places:
		net, err = LoadVGGPlaces(sd, o.VGG, o.LayerMap)
	default:
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
			fmt.Sprintf("unsupported classifier variant %s", v))
	}
	if err != nil {
		if core.IsModelLoad(err) {
			return nil, err
		}
		return nil, core.NewModelLoadError(core.ModuleModel, err, "load %s from %s", v, path)
	}
	return net, nil
}
