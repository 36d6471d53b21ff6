package model

import (
	"fmt"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
	"github.com/rushteam/alignkit/weights"
)

// DefaultEmbeddingDim 是 DaveNet 共享嵌入空间的维度。
const DefaultEmbeddingDim = 1024

// DataParallelPrefix 是 nn.DataParallel 保存 state_dict 时给每个 key 加的前缀。
const DataParallelPrefix = "module."

// DavenetAudio 是 DaveNet 的音频塔：输入 (N,1,40,T) 的对数梅尔谱，输出 (N,D,T')。
//
// 结构：
//
//	batchnorm1 -> conv1(40x1) -> conv2(1x11) -> pool
//	-> conv3(1x17) -> pool -> conv4(1x17) -> pool -> conv5(1x17) -> pool
//
// 每个卷积后接 ReLU；pool 为 kernel (1,3) stride (1,2) padding (0,1)，时间轴每次减半。
type DavenetAudio struct {
	BatchNorm1 *nn.BatchNorm2d
	Conv1      *nn.Conv2d
	Conv2      *nn.Conv2d
	Conv3      *nn.Conv2d
	Conv4      *nn.Conv2d
	Conv5      *nn.Conv2d
	Pool       *nn.MaxPool2d

	MelBins      int
	EmbeddingDim int
}

// NewDavenetAudio 创建音频塔，参数为 0，等待加载权重。
func NewDavenetAudio(melBins, embeddingDim int) *DavenetAudio {
	if melBins <= 0 {
		melBins = 40
	}
	if embeddingDim <= 0 {
		embeddingDim = DefaultEmbeddingDim
	}
	return &DavenetAudio{
		BatchNorm1:   nn.NewBatchNorm2d(1),
		Conv1:        nn.NewConv2d(1, 128, melBins, 1),
		Conv2:        nn.NewConv2d(128, 256, 1, 11, nn.WithPadding(0, 5)),
		Conv3:        nn.NewConv2d(256, 512, 1, 17, nn.WithPadding(0, 8)),
		Conv4:        nn.NewConv2d(512, 512, 1, 17, nn.WithPadding(0, 8)),
		Conv5:        nn.NewConv2d(512, embeddingDim, 1, 17, nn.WithPadding(0, 8)),
		Pool:         &nn.MaxPool2d{KernelH: 1, KernelW: 3, StrideH: 1, StrideW: 2, PadW: 1},
		MelBins:      melBins,
		EmbeddingDim: embeddingDim,
	}
}

func (m *DavenetAudio) Name() string { return "davenet_audio" }

func (m *DavenetAudio) stages() []nn.Entry {
	relu := nn.ReLU{}
	return []nn.Entry{
		{Name: "batchnorm1", Module: m.BatchNorm1},
		{Name: "conv1", Module: m.Conv1}, {Name: "relu1", Module: relu},
		{Name: "conv2", Module: m.Conv2}, {Name: "relu2", Module: relu}, {Name: "pool2", Module: m.Pool},
		{Name: "conv3", Module: m.Conv3}, {Name: "relu3", Module: relu}, {Name: "pool3", Module: m.Pool},
		{Name: "conv4", Module: m.Conv4}, {Name: "relu4", Module: relu}, {Name: "pool4", Module: m.Pool},
		{Name: "conv5", Module: m.Conv5}, {Name: "relu5", Module: relu}, {Name: "pool5", Module: m.Pool},
	}
}

// Forward 接受 (N,1,mel,T) 或 (N,mel,T)，返回 (N,D,T')。
func (m *DavenetAudio) Forward(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NDim() == 3 {
		x = x.Unsqueeze(1)
	}
	if x.NDim() != 4 || x.Dim(1) != 1 || x.Dim(2) != m.MelBins {
		return nil, core.NewDimensionMismatchError(core.ModuleModel,
			"davenet audio expects (N,1,%d,T), got %s", m.MelBins, tensor.FormatShape(x.Shape()))
	}
	out, err := nn.NewNamed(m.stages()...).Forward(s, x)
	if err != nil {
		return nil, err
	}
	return out.Squeeze(2)
}

func (m *DavenetAudio) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	m.BatchNorm1.VisitParams(prefix+"batchnorm1.", visit)
	m.Conv1.VisitParams(prefix+"conv1.", visit)
	m.Conv2.VisitParams(prefix+"conv2.", visit)
	m.Conv3.VisitParams(prefix+"conv3.", visit)
	m.Conv4.VisitParams(prefix+"conv4.", visit)
	m.Conv5.VisitParams(prefix+"conv5.", visit)
}

func (m *DavenetAudio) SetTraining(training bool) {
	m.BatchNorm1.SetTraining(training)
}

// DavenetImage 是 DaveNet 的图像塔：VGG16 的 features 去掉最后一个池化层，
// 再接一个 3x3 的 512->D 卷积（image_model.30），输出 (N,D,H/16,W/16)。
type DavenetImage struct {
	ImageModel   *nn.Sequential
	EmbeddingDim int
}

// NewDavenetImage 创建图像塔。
func NewDavenetImage(embeddingDim int) *DavenetImage {
	if embeddingDim <= 0 {
		embeddingDim = DefaultEmbeddingDim
	}
	features := vgg16Layers()
	trunk := features[:len(features)-1]
	trunk = append(trunk, nn.NewConv2d(512, embeddingDim, 3, 3, nn.WithPadding(1, 1)))
	return &DavenetImage{
		ImageModel:   nn.NewSequential(trunk...),
		EmbeddingDim: embeddingDim,
	}
}

func (m *DavenetImage) Name() string { return "davenet_image" }

func (m *DavenetImage) Forward(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NDim() != 4 || x.Dim(1) != 3 {
		return nil, core.NewDimensionMismatchError(core.ModuleModel,
			"davenet image expects (N,3,H,W), got %s", tensor.FormatShape(x.Shape()))
	}
	return m.ImageModel.Forward(s, x)
}

func (m *DavenetImage) VisitParams(prefix string, visit func(string, *tensor.Tensor)) {
	m.ImageModel.VisitParams(prefix+"image_model.", visit)
}

func (m *DavenetImage) SetTraining(training bool) { m.ImageModel.SetTraining(training) }

// LoadDavenetAudio 从权重文件加载音频塔并切换到评估模式。
func LoadDavenetAudio(path string, embeddingDim int) (*DavenetAudio, error) {
	m := NewDavenetAudio(40, embeddingDim)
	if err := weights.LoadFile(m, path, weights.WithStripPrefix(DataParallelPrefix)); err != nil {
		return nil, fmt.Errorf("load davenet audio: %w", err)
	}
	return nn.Eval(m), nil
}

// LoadDavenetImage 从权重文件加载图像塔并切换到评估模式。
func LoadDavenetImage(path string, embeddingDim int) (*DavenetImage, error) {
	m := NewDavenetImage(embeddingDim)
	if err := weights.LoadFile(m, path, weights.WithStripPrefix(DataParallelPrefix)); err != nil {
		return nil, fmt.Errorf("load davenet image: %w", err)
	}
	return nn.Eval(m), nil
}
