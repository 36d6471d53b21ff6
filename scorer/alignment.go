package scorer

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/feature"
	"github.com/rushteam/alignkit/model"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/service"
	"github.com/rushteam/alignkit/tensor"
)

// AlignmentScorer 用 DaveNet 双塔编码器计算口语描述与图像的对齐热力图和三个聚合分数。
//
// 编码器构建后只读，Score 可以被多个 goroutine 并发调用。
type AlignmentScorer struct {
	audio     model.Encoder
	image     model.Encoder
	threshold float64
	transform feature.ImageTransform
	logger    logrus.FieldLogger
}

// NewAlignmentScorer 加载音频与图像编码器。
//
// 每一侧按优先级选择：WithEncoders 注入 > 远程端点 > 本地权重文件。
// 权重缺失、损坏或与结构不兼容时返回 MODEL_LOAD 错误。
func NewAlignmentScorer(cfg core.AlignmentConfig, opts ...Option) (*AlignmentScorer, error) {
	cfg = cfg.WithDefaults(nil)
	o := newOptions("scorer.alignment", opts)
	if o.threshold != nil {
		cfg.Threshold = *o.threshold
	}

	audio, err := buildEncoder(o.audio, cfg.AudioEndpoint, cfg.Timeout, func() (model.Network, error) {
		return model.LoadDavenetAudio(cfg.AudioModelPath, cfg.EmbeddingDim)
	})
	if err != nil {
		return nil, fmt.Errorf("audio encoder: %w", err)
	}
	img, err := buildEncoder(o.image, cfg.ImageEndpoint, cfg.Timeout, func() (model.Network, error) {
		return model.LoadDavenetImage(cfg.ImageModelPath, cfg.EmbeddingDim)
	})
	if err != nil {
		return nil, fmt.Errorf("image encoder: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"audio":     audio.Name(),
		"image":     img.Name(),
		"threshold": cfg.Threshold,
	}).Info("alignment scorer ready")

	return &AlignmentScorer{
		audio:     audio,
		image:     img,
		threshold: cfg.Threshold,
		transform: feature.DefaultImageTransform(),
		logger:    o.logger,
	}, nil
}

func buildEncoder(injected model.Encoder, endpoint string, timeout time.Duration, load func() (model.Network, error)) (model.Encoder, error) {
	if injected != nil {
		return injected, nil
	}
	if endpoint != "" {
		sc, err := service.ParseEndpoint(endpoint, timeout)
		if err != nil {
			return nil, err
		}
		remote, err := service.NewEncoder(sc)
		if err != nil {
			return nil, err
		}
		return remote, nil
	}
	net, err := load()
	if err != nil {
		return nil, err
	}
	return model.AsEncoder(net), nil
}

// Threshold 返回匹配阈值。
func (s *AlignmentScorer) Threshold() float64 { return s.threshold }

// ExtractImageFeatures 预处理图像并编码，返回 (D, H·W) 嵌入和原始 (D, H, W) 形状。
// 非 3 通道图像返回 DIMENSION_MISMATCH。
func (s *AlignmentScorer) ExtractImageFeatures(ctx context.Context, img image.Image) (*tensor.Tensor, core.Shape3, error) {
	x, err := s.transform.Apply(img)
	if err != nil {
		return nil, core.Shape3{}, err
	}
	sess := nn.NewSession(ctx)
	restore := sess.NoGrad()
	defer restore()

	out, err := s.image.Encode(sess, x.Unsqueeze(0))
	if err != nil {
		return nil, core.Shape3{}, fmt.Errorf("encode image: %w", err)
	}
	if out.NDim() != 4 || out.Dim(0) != 1 {
		return nil, core.Shape3{}, core.NewDimensionMismatchError(core.ModuleScorer,
			"image encoder output %s, want (1, D, H, W)", tensor.FormatShape(out.Shape()))
	}
	shape := core.Shape3{D: out.Dim(1), H: out.Dim(2), W: out.Dim(3)}
	flat, err := out.Reshape(shape.D, shape.H*shape.W)
	if err != nil {
		return nil, core.Shape3{}, err
	}
	return flat, shape, nil
}

// ExtractAudioFeatures 对 (mel, T) 的对数梅尔谱编码，返回 (D, T')。
func (s *AlignmentScorer) ExtractAudioFeatures(ctx context.Context, mel *tensor.Tensor) (*tensor.Tensor, error) {
	if mel == nil || mel.NDim() != 2 {
		return nil, core.NewDimensionMismatchError(core.ModuleScorer, "mel spectrogram must be (mel, T)")
	}
	sess := nn.NewSession(ctx)
	restore := sess.NoGrad()
	defer restore()

	out, err := s.audio.Encode(sess, mel.Unsqueeze(0).Unsqueeze(0))
	if err != nil {
		return nil, fmt.Errorf("encode audio: %w", err)
	}
	if out.NDim() != 3 || out.Dim(0) != 1 {
		return nil, core.NewDimensionMismatchError(core.ModuleScorer,
			"audio encoder output %s, want (1, D, T)", tensor.FormatShape(out.Shape()))
	}
	return out.Squeeze(0)
}

// Score 计算热力图、匹配掩码与 SISA/MISA/SIMA。失败不重试。
func (s *AlignmentScorer) Score(ctx context.Context, mel *tensor.Tensor, img image.Image) (*core.AlignmentResult, error) {
	audio, err := s.ExtractAudioFeatures(ctx, mel)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	imgEmb, shape, err := s.ExtractImageFeatures(ctx, img)
	if err != nil {
		return nil, err
	}
	return s.ScoreEmbeddings(audio, imgEmb, shape)
}

// ScoreEmbeddings 对已编码的嵌入打分。
func (s *AlignmentScorer) ScoreEmbeddings(audio, imageEmb *tensor.Tensor, shape core.Shape3) (*core.AlignmentResult, error) {
	heatmap, err := ComputeHeatmap(audio, imageEmb, shape)
	if err != nil {
		return nil, err
	}
	score := ComputeScores(heatmap)
	s.logger.WithFields(logrus.Fields{
		"frames": heatmap.T,
		"grid":   fmt.Sprintf("%dx%d", heatmap.H, heatmap.W),
		"sisa":   score.SISA,
		"misa":   score.MISA,
		"sima":   score.SIMA,
	}).Debug("alignment scored")
	return &core.AlignmentResult{
		Heatmap:    heatmap,
		Mask:       ComputeMatchMask(heatmap, s.threshold),
		Score:      score,
		ImageShape: shape,
		Threshold:  s.threshold,
	}, nil
}
