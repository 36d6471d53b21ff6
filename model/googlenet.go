package model

import (
	"fmt"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
	"github.com/rushteam/alignkit/weights"
)

// InceptionSpec 描述一个 Inception 模块的各分支宽度。
type InceptionSpec struct {
	Name      string // 如 "inception_3a"
	Out1x1    int
	Reduce3x3 int
	Out3x3    int
	Reduce5x5 int
	Out5x5    int
	PoolProj  int
	PoolAfter bool // 该模块之后接 3x3 stride 2 最大池化
}

// OutChannels 返回四个分支拼接后的通道数。
func (s InceptionSpec) OutChannels() int {
	return s.Out1x1 + s.Out3x3 + s.Out5x5 + s.PoolProj
}

// GoogLeNetConfig 描述 Caffe 版 GoogLeNet（bvlc_googlenet 结构）。
type GoogLeNetConfig struct {
	Conv1       int // conv1/7x7_s2
	Conv2Reduce int // conv2/3x3_reduce
	Conv2       int // conv2/3x3
	Inceptions  []InceptionSpec
	NumClasses  int
}

// GoogLeNetPlaces205Config 是 Places205 上训练的 GoogLeNet 结构。
func GoogLeNetPlaces205Config() GoogLeNetConfig {
	return GoogLeNetConfig{
		Conv1:       64,
		Conv2Reduce: 64,
		Conv2:       192,
		Inceptions: []InceptionSpec{
			{"inception_3a", 64, 96, 128, 16, 32, 32, false},
			{"inception_3b", 128, 128, 192, 32, 96, 64, true},
			{"inception_4a", 192, 96, 208, 16, 48, 64, false},
			{"inception_4b", 160, 112, 224, 24, 64, 64, false},
			{"inception_4c", 128, 128, 256, 24, 64, 64, false},
			{"inception_4d", 112, 144, 288, 32, 64, 64, false},
			{"inception_4e", 256, 160, 320, 32, 128, 128, true},
			{"inception_5a", 256, 160, 320, 32, 128, 128, false},
			{"inception_5b", 384, 192, 384, 48, 128, 128, false},
		},
		NumClasses: Places205Classes,
	}
}

// Inception 并行执行四个分支，在通道维拼接。
type Inception struct {
	Spec    InceptionSpec
	Conv1   *nn.Conv2d
	Reduce3 *nn.Conv2d
	Conv3   *nn.Conv2d
	Reduce5 *nn.Conv2d
	Conv5   *nn.Conv2d
	Pool    *nn.MaxPool2d
	Proj    *nn.Conv2d
}

// NewInception 创建 Inception 模块。
func NewInception(in int, spec InceptionSpec) *Inception {
	return &Inception{
		Spec:    spec,
		Conv1:   nn.NewConv2d(in, spec.Out1x1, 1, 1),
		Reduce3: nn.NewConv2d(in, spec.Reduce3x3, 1, 1),
		Conv3:   nn.NewConv2d(spec.Reduce3x3, spec.Out3x3, 3, 3, nn.WithPadding(1, 1)),
		Reduce5: nn.NewConv2d(in, spec.Reduce5x5, 1, 1),
		Conv5:   nn.NewConv2d(spec.Reduce5x5, spec.Out5x5, 5, 5, nn.WithPadding(2, 2)),
		Pool:    &nn.MaxPool2d{KernelH: 3, KernelW: 3, StrideH: 1, StrideW: 1, PadH: 1, PadW: 1, CeilMode: true},
		Proj:    nn.NewConv2d(in, spec.PoolProj, 1, 1),
	}
}

func (m *Inception) branches() [][]nn.Module {
	relu := nn.ReLU{}
	return [][]nn.Module{
		{m.Conv1, relu},
		{m.Reduce3, relu, m.Conv3, relu},
		{m.Reduce5, relu, m.Conv5, relu},
		{m.Pool, m.Proj, relu},
	}
}

func (m *Inception) Forward(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	outs := make([]*tensor.Tensor, 0, 4)
	for i, branch := range m.branches() {
		out := x
		for _, layer := range branch {
			var err error
			if out, err = layer.Forward(s, out); err != nil {
				return nil, fmt.Errorf("%s branch %d: %w", m.Spec.Name, i, err)
			}
		}
		outs = append(outs, out)
	}
	return concatChannels(outs)
}

func (m *Inception) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	name := prefix + m.Spec.Name
	m.Conv1.VisitParams(name+"_1x1.", visit)
	m.Reduce3.VisitParams(name+"_3x3_reduce.", visit)
	m.Conv3.VisitParams(name+"_3x3.", visit)
	m.Reduce5.VisitParams(name+"_5x5_reduce.", visit)
	m.Conv5.VisitParams(name+"_5x5.", visit)
	m.Proj.VisitParams(name+"_pool_proj.", visit)
}

func (m *Inception) SetTraining(bool) {}

// concatChannels 在通道维（dim 1）拼接 NCHW 张量。
func concatChannels(ts []*tensor.Tensor) (*tensor.Tensor, error) {
	n, h, w := ts[0].Dim(0), ts[0].Dim(2), ts[0].Dim(3)
	total := 0
	for _, t := range ts {
		if t.Dim(0) != n || t.Dim(2) != h || t.Dim(3) != w {
			return nil, fmt.Errorf("concat: shape %s incompatible with (%d, _, %d, %d)",
				tensor.FormatShape(t.Shape()), n, h, w)
		}
		total += t.Dim(1)
	}
	out := tensor.New(n, total, h, w)
	dst := out.Data()
	plane := h * w
	for b := 0; b < n; b++ {
		off := b * total * plane
		for _, t := range ts {
			c := t.Dim(1)
			src := t.Data()[b*c*plane : (b+1)*c*plane]
			copy(dst[off:], src)
			off += len(src)
		}
	}
	return out, nil
}

// GoogLeNet 是 Caffe 版 GoogLeNet，参数名与 Caffe 层名一致（"/" 换成 "_"），
// 如 conv1_7x7_s2、inception_3a_pool_proj、loss3_classifier。
type GoogLeNet struct {
	Config GoogLeNetConfig
	Stem   *nn.Sequential
	Blocks []*Inception
	Pools  map[int]*nn.MaxPool2d
	Head   *nn.Sequential
}

func caffeMaxPool() *nn.MaxPool2d {
	return &nn.MaxPool2d{KernelH: 3, KernelW: 3, StrideH: 2, StrideW: 2, CeilMode: true}
}

func caffeLRN() *nn.LocalResponseNorm {
	return &nn.LocalResponseNorm{Size: 5, Alpha: 1e-4, Beta: 0.75, K: 1}
}

// NewGoogLeNet 按配置创建网络，参数为 0。
func NewGoogLeNet(cfg GoogLeNetConfig) *GoogLeNet {
	relu := nn.ReLU{}
	stem := nn.NewNamed(
		nn.Entry{Name: "conv1_7x7_s2", Module: nn.NewConv2d(3, cfg.Conv1, 7, 7, nn.WithStride(2, 2), nn.WithPadding(3, 3))},
		nn.Entry{Name: "conv1_relu_7x7", Module: relu},
		nn.Entry{Name: "pool1_3x3_s2", Module: caffeMaxPool()},
		nn.Entry{Name: "pool1_norm1", Module: caffeLRN()},
		nn.Entry{Name: "conv2_3x3_reduce", Module: nn.NewConv2d(cfg.Conv1, cfg.Conv2Reduce, 1, 1)},
		nn.Entry{Name: "conv2_relu_3x3_reduce", Module: relu},
		nn.Entry{Name: "conv2_3x3", Module: nn.NewConv2d(cfg.Conv2Reduce, cfg.Conv2, 3, 3, nn.WithPadding(1, 1))},
		nn.Entry{Name: "conv2_relu_3x3", Module: relu},
		nn.Entry{Name: "conv2_norm2", Module: caffeLRN()},
		nn.Entry{Name: "pool2_3x3_s2", Module: caffeMaxPool()},
	)

	g := &GoogLeNet{Config: cfg, Stem: stem, Pools: make(map[int]*nn.MaxPool2d)}
	in := cfg.Conv2
	for i, spec := range cfg.Inceptions {
		g.Blocks = append(g.Blocks, NewInception(in, spec))
		in = spec.OutChannels()
		if spec.PoolAfter {
			g.Pools[i] = caffeMaxPool()
		}
	}
	g.Head = nn.NewNamed(
		nn.Entry{Name: "pool5_7x7_s1", Module: &nn.AvgPool2d{Kernel: 7, Stride: 1}},
		nn.Entry{Name: "pool5_drop_7x7_s1", Module: nn.NewDropout(0.4)},
		nn.Entry{Name: "flatten", Module: nn.Flatten{}},
		nn.Entry{Name: "loss3_classifier", Module: nn.NewLinear(in, cfg.NumClasses)},
	)
	return g
}

func (g *GoogLeNet) Name() string { return "googlenet_places205" }

// Forward 要求输入 (N,3,224,224)：末端 7x7 平均池化与 224 输入的 7x7 特征图对应。
func (g *GoogLeNet) Forward(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NDim() != 4 || x.Dim(1) != 3 {
		return nil, core.NewDimensionMismatchError(core.ModuleModel,
			"googlenet expects (N,3,H,W), got %s", tensor.FormatShape(x.Shape()))
	}
	x, err := g.Stem.Forward(s, x)
	if err != nil {
		return nil, err
	}
	for i, block := range g.Blocks {
		if err := s.Err(); err != nil {
			return nil, err
		}
		if x, err = block.Forward(s, x); err != nil {
			return nil, err
		}
		if pool, ok := g.Pools[i]; ok {
			if x, err = pool.Forward(s, x); err != nil {
				return nil, fmt.Errorf("pool after %s: %w", block.Spec.Name, err)
			}
		}
	}
	return g.Head.Forward(s, x)
}

func (g *GoogLeNet) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	g.Stem.VisitParams(prefix, visit)
	for _, block := range g.Blocks {
		block.VisitParams(prefix, visit)
	}
	g.Head.VisitParams(prefix, visit)
}

func (g *GoogLeNet) SetTraining(training bool) {
	g.Stem.SetTraining(training)
	g.Head.SetTraining(training)
}

// LoadGoogLeNet 直接按名字加载（无 key 翻译）。
func LoadGoogLeNet(sd weights.StateDict, cfg GoogLeNetConfig) (*GoogLeNet, error) {
	g := NewGoogLeNet(cfg)
	if err := weights.LoadInto(g, sd); err != nil {
		return nil, fmt.Errorf("load googlenet places205: %w", err)
	}
	return nn.Eval(g), nil
}
