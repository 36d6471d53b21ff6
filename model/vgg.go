package model

import (
	"fmt"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
	"github.com/rushteam/alignkit/weights"
)

// Places205Classes 是 Places205 场景类别数。
const Places205Classes = 205

// PoolMarker 在 VGGConfig.Layers 中表示一个 2x2 最大池化。
const PoolMarker = -1

// VGGConfig 描述 VGG 的层结构，命名与 torchvision 一致（features.N / classifier.N）。
type VGGConfig struct {
	// Layers 依次为卷积输出通道数，PoolMarker 表示池化层
	Layers []int

	// Hidden 是 classifier 中两个隐藏全连接层的宽度
	Hidden int

	// NumClasses 是输出类别数
	NumClasses int

	// PoolSize 是 features 之后自适应平均池化的输出尺寸
	PoolSize int
}

// VGG16Config 是 torchvision vgg16 的结构，输出 205 类。
func VGG16Config() VGGConfig {
	return VGGConfig{
		Layers: []int{
			64, 64, PoolMarker,
			128, 128, PoolMarker,
			256, 256, 256, PoolMarker,
			512, 512, 512, PoolMarker,
			512, 512, 512, PoolMarker,
		},
		Hidden:     4096,
		NumClasses: Places205Classes,
		PoolSize:   7,
	}
}

// VGG16CaffeLayerMap 把 Caffe 风格的层名翻译为 torchvision vgg16 的层名。
// 13 个卷积层 + 3 个全连接层，共 16 项。
var VGG16CaffeLayerMap = map[string]string{
	"conv1_1": "features.0",
	"conv1_2": "features.2",
	"conv2_1": "features.5",
	"conv2_2": "features.7",
	"conv3_1": "features.10",
	"conv3_2": "features.12",
	"conv3_3": "features.14",
	"conv4_1": "features.17",
	"conv4_2": "features.19",
	"conv4_3": "features.21",
	"conv5_1": "features.24",
	"conv5_2": "features.26",
	"conv5_3": "features.28",
	"fc6":     "classifier.0",
	"fc7":     "classifier.3",
	"fc8":     "classifier.6",
}

// CopyLayerMap 返回 VGG16CaffeLayerMap 的副本，调用方可以安全修改。
func CopyLayerMap() map[string]string {
	out := make(map[string]string, len(VGG16CaffeLayerMap))
	for k, v := range VGG16CaffeLayerMap {
		out[k] = v
	}
	return out
}

// vggFeatures 按配置构建 features 序列：每个卷积 3x3 pad 1 后接 ReLU。
func vggFeatures(layers []int) []nn.Module {
	var mods []nn.Module
	in := 3
	for _, c := range layers {
		if c == PoolMarker {
			mods = append(mods, nn.NewMaxPool2d(2, 2, 0))
			continue
		}
		mods = append(mods, nn.NewConv2d(in, c, 3, 3, nn.WithPadding(1, 1)), nn.ReLU{})
		in = c
	}
	return mods
}

func vgg16Layers() []nn.Module {
	return vggFeatures(VGG16Config().Layers)
}

// VGG 是 torchvision 布局的 VGG 分类网络。
type VGG struct {
	Features   *nn.Sequential
	AvgPool    *nn.AdaptiveAvgPool2d
	Classifier *nn.Sequential
	Config     VGGConfig
}

// NewVGG 按配置创建网络，参数为 0。
func NewVGG(cfg VGGConfig) *VGG {
	last := 3
	for _, c := range cfg.Layers {
		if c != PoolMarker {
			last = c
		}
	}
	flat := last * cfg.PoolSize * cfg.PoolSize
	return &VGG{
		Features: nn.NewSequential(vggFeatures(cfg.Layers)...),
		AvgPool:  &nn.AdaptiveAvgPool2d{OutH: cfg.PoolSize, OutW: cfg.PoolSize},
		Classifier: nn.NewSequential(
			nn.NewLinear(flat, cfg.Hidden),
			nn.ReLU{},
			nn.NewDropout(0.5),
			nn.NewLinear(cfg.Hidden, cfg.Hidden),
			nn.ReLU{},
			nn.NewDropout(0.5),
			nn.NewLinear(cfg.Hidden, cfg.NumClasses),
		),
		Config: cfg,
	}
}

func (m *VGG) Name() string { return "vgg16" }

func (m *VGG) Forward(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NDim() != 4 || x.Dim(1) != 3 {
		return nil, core.NewDimensionMismatchError(core.ModuleModel,
			"vgg expects (N,3,H,W), got %s", tensor.FormatShape(x.Shape()))
	}
	x, err := m.Features.Forward(s, x)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	if x, err = m.AvgPool.Forward(s, x); err != nil {
		return nil, err
	}
	if x, err = (nn.Flatten{}).Forward(s, x); err != nil {
		return nil, err
	}
	x, err = m.Classifier.Forward(s, x)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return x, nil
}

func (m *VGG) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	m.Features.VisitParams(prefix+"features.", visit)
	m.Classifier.VisitParams(prefix+"classifier.", visit)
}

func (m *VGG) SetTraining(training bool) {
	m.Features.SetTraining(training)
	m.Classifier.SetTraining(training)
}

// LoadVGGPlaces 加载以 Caffe 层名保存的 VGG16 Places205 权重：
// 每个 key 先经 layerMap 翻译，再按名字绑定。未知层名在加载阶段失败。
func LoadVGGPlaces(sd weights.StateDict, cfg VGGConfig, layerMap map[string]string) (*VGG, error) {
	m := NewVGG(cfg)
	if err := weights.LoadInto(m, sd, weights.WithKeyMap(layerMap)); err != nil {
		return nil, fmt.Errorf("load vgg16 places205: %w", err)
	}
	return nn.Eval(m), nil
}
