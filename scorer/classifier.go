package scorer

import (
	"context"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/feature"
	"github.com/rushteam/alignkit/labels"
	"github.com/rushteam/alignkit/model"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
)

// SceneClassifier 给图像打 Places205 场景类别分。
//
// 无法识别的骨干名不会导致构建失败：分类器没有骨干，Score 返回 (nil, nil)。
type SceneClassifier struct {
	variant   model.Variant
	net       model.Network
	noGrad    bool
	transform feature.ImageTransform
	labels    *labels.Table
	logger    logrus.FieldLogger
}

// NewSceneClassifier 按配置选择骨干并加载权重，加载后处于评估模式。
// 权重文件缺失、损坏或层名映射不完整时返回 MODEL_LOAD 错误。
func NewSceneClassifier(cfg core.ClassifierConfig, opts ...Option) (*SceneClassifier, error) {
	cfg = cfg.WithDefaults(nil)
	o := newOptions("scorer.scene", opts)
	if o.noGrad != nil {
		cfg.NoGrad = *o.noGrad
	}
	c := &SceneClassifier{
		noGrad:    cfg.NoGrad,
		transform: feature.ClassifierTransform(cfg.InputSize),
		labels:    o.labels,
	}

	v, err := model.ParseVariant(cfg.Variant)
	if err != nil {
		o.logger.WithError(err).Warn("scene classifier has no backbone")
	}
	c.variant = v
	c.logger = o.logger.WithField("variant", v.String())

	switch {
	case o.network != nil:
		c.net = o.network
	case v != model.VariantNone:
		net, err := model.LoadBackbone(v, cfg.ModelPath, o.backbone...)
		if err != nil {
			return nil, fmt.Errorf("scene classifier: %w", err)
		}
		c.net = net
	}
	if c.net != nil {
		nn.Eval(c.net)
		c.logger.WithField("path", cfg.ModelPath).Info("scene classifier ready")
	}
	return c, nil
}

// Variant 返回骨干类型。
func (c *SceneClassifier) Variant() model.Variant { return c.variant }

// HasBackbone 报告是否加载了骨干。
func (c *SceneClassifier) HasBackbone() bool { return c.net != nil }

// Score 返回原始 logits (N, classes)。没有骨干时返回 (nil, nil)。
// 输入应已缩放到分类器输入尺寸，这里不做检查；3 维输入会补批量维。
func (c *SceneClassifier) Score(ctx context.Context, img *tensor.Tensor) (*tensor.Tensor, error) {
	if c.net == nil {
		return nil, nil
	}
	if img.NDim() == 3 {
		img = img.Unsqueeze(0)
	}
	sess := nn.NewSession(ctx)
	if c.noGrad {
		restore := sess.NoGrad()
		defer restore()
	}
	out, err := c.net.Forward(sess, img)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return out, nil
}

// Classify 预处理图像并返回预测类别。没有骨干时结果的 Missing 为 true。
func (c *SceneClassifier) Classify(ctx context.Context, img image.Image) (*core.ClassifyResult, error) {
	res := &core.ClassifyResult{Variant: c.variant.String(), ClassIndex: -1}
	if c.net == nil {
		res.Missing = true
		return res, nil
	}
	x, err := c.transform.Apply(img)
	if err != nil {
		return nil, err
	}
	logits, err := c.Score(ctx, x)
	if err != nil {
		return nil, err
	}
	res.Logits = append([]float32(nil), logits.Data()[:logits.Dim(logits.NDim()-1)]...)
	res.ClassIndex = labels.Argmax(res.Logits)
	if c.labels != nil {
		name, err := c.labels.Lookup(res.ClassIndex)
		if err != nil {
			c.logger.WithError(err).Warn("class index has no label")
		} else {
			res.Label = name
		}
	}
	return res, nil
}
