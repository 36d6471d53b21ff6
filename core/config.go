package core

import "time"

// EvalDefaults 是评估相关的配置接口，用于提供默认值。
type EvalDefaults interface {
	// DefaultThreshold 返回热力图匹配阈值
	DefaultThreshold() float64

	// DefaultEmbeddingDim 返回 DaveNet 嵌入维度
	DefaultEmbeddingDim() int

	// DefaultVariant 返回默认的分类骨干名
	DefaultVariant() string

	// DefaultClassifierInputSize 返回分类器输入边长
	DefaultClassifierInputSize() int

	// DefaultWorkers 返回并发评估的 worker 数
	DefaultWorkers() int

	// DefaultTimeout 返回远程编码服务的超时时间
	DefaultTimeout() time.Duration
}

// DefaultEvalConfig 是默认的评估配置实现。
type DefaultEvalConfig struct{}

func (c *DefaultEvalConfig) DefaultThreshold() float64 {
	return 5.0
}

func (c *DefaultEvalConfig) DefaultEmbeddingDim() int {
	return 1024
}

func (c *DefaultEvalConfig) DefaultVariant() string {
	return "vgg16_places"
}

func (c *DefaultEvalConfig) DefaultClassifierInputSize() int {
	return 224
}

func (c *DefaultEvalConfig) DefaultWorkers() int {
	return 4
}

func (c *DefaultEvalConfig) DefaultTimeout() time.Duration {
	return 30 * time.Second
}

// AlignmentConfig 是对齐打分器的构造参数。
type AlignmentConfig struct {
	AudioModelPath string  `yaml:"audio_model" mapstructure:"audio_model"`
	ImageModelPath string  `yaml:"image_model" mapstructure:"image_model"`
	Threshold      float64 `yaml:"threshold" mapstructure:"threshold"`
	EmbeddingDim   int     `yaml:"embedding_dim" mapstructure:"embedding_dim"`

	// AudioEndpoint/ImageEndpoint 非空时改用远程 TorchServe 编码，对应的本地权重可以为空
	AudioEndpoint string        `yaml:"audio_endpoint" mapstructure:"audio_endpoint"`
	ImageEndpoint string        `yaml:"image_endpoint" mapstructure:"image_endpoint"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WithDefaults 用 d 填充零值字段。
func (c AlignmentConfig) WithDefaults(d EvalDefaults) AlignmentConfig {
	if d == nil {
		d = &DefaultEvalConfig{}
	}
	if c.Threshold == 0 {
		c.Threshold = d.DefaultThreshold()
	}
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = d.DefaultEmbeddingDim()
	}
	if c.Timeout == 0 {
		c.Timeout = d.DefaultTimeout()
	}
	return c
}

// ClassifierConfig 是场景分类器的构造参数。
type ClassifierConfig struct {
	Variant   string `yaml:"variant" mapstructure:"variant"`
	ModelPath string `yaml:"model" mapstructure:"model"`
	// NoGrad 为 true 时打分在推理作用域内执行，不记录中间激活
	NoGrad    bool `yaml:"no_grad" mapstructure:"no_grad"`
	InputSize int  `yaml:"input_size" mapstructure:"input_size"`
}

// WithDefaults 用 d 填充零值字段。
func (c ClassifierConfig) WithDefaults(d EvalDefaults) ClassifierConfig {
	if d == nil {
		d = &DefaultEvalConfig{}
	}
	if c.Variant == "" {
		c.Variant = d.DefaultVariant()
	}
	if c.InputSize == 0 {
		c.InputSize = d.DefaultClassifierInputSize()
	}
	return c
}
