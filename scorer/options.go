// Package scorer 实现两个预训练打分器：DaveNet 音频-图像对齐打分与 Places205 场景分类。
package scorer

import (
	"github.com/sirupsen/logrus"

	"github.com/rushteam/alignkit/labels"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/model"
)

type options struct {
	logger    logrus.FieldLogger
	threshold *float64
	audio     model.Encoder
	image     model.Encoder
	noGrad    *bool
	backbone  []model.BackboneOption
	network   model.Network
	labels    *labels.Table
}

func newOptions(component string, opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Component(component)
	}
	return o
}

// Option 配置打分器。
type Option func(*options)

// WithLogger 设置日志。
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithThreshold 覆盖配置中的匹配阈值。
func WithThreshold(v float64) Option {
	return func(o *options) { o.threshold = &v }
}

// WithEncoders 直接注入音频/图像编码器，跳过权重加载。任一为 nil 时该侧照常按配置构建。
func WithEncoders(audio, image model.Encoder) Option {
	return func(o *options) {
		o.audio = audio
		o.image = image
	}
}

// WithNoGrad 覆盖分类器配置中的 NoGrad。
func WithNoGrad(v bool) Option {
	return func(o *options) { o.noGrad = &v }
}

// WithLayerMap 替换 VGG16 权重的层名映射表。
func WithLayerMap(m map[string]string) Option {
	return func(o *options) { o.backbone = append(o.backbone, model.WithLayerMap(m)) }
}

// WithBackboneOptions 透传骨干构建参数。
func WithBackboneOptions(opts ...model.BackboneOption) Option {
	return func(o *options) { o.backbone = append(o.backbone, opts...) }
}

// WithNetwork 直接注入已构建的骨干网络。
func WithNetwork(net model.Network) Option {
	return func(o *options) { o.network = net }
}

// WithLabels 设置类别表，Classify 会填充 ClassifyResult.Label。
func WithLabels(t *labels.Table) Option {
	return func(o *options) { o.labels = t }
}
