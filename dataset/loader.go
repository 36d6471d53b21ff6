package dataset

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"sync"

	"github.com/go-audio/wav"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/feature"
	"github.com/rushteam/alignkit/logging"
)

// Loader 按清单顺序产出样本：解码图像、读取 wav 并计算对数梅尔谱。
// Next 可以被多个 goroutine 调用，每条样本只会被取出一次。
type Loader struct {
	manifest *Manifest
	mel      feature.MelConfig
	limit    int
	logger   logrus.FieldLogger

	mu   sync.Mutex
	next int
}

// LoaderOption 配置 Loader。
type LoaderOption func(*Loader)

// WithMelConfig 设置梅尔谱参数。
func WithMelConfig(cfg feature.MelConfig) LoaderOption {
	return func(l *Loader) { l.mel = cfg }
}

// WithLimit 只读取前 n 条，n <= 0 表示不限制。
func WithLimit(n int) LoaderOption {
	return func(l *Loader) { l.limit = n }
}

// WithLogger 设置日志。
func WithLogger(logger logrus.FieldLogger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader 创建 Loader。默认梅尔谱参数为 DaveNet 配置并保留原始长度。
func NewLoader(m *Manifest, opts ...LoaderOption) *Loader {
	mel := feature.DefaultMelConfig()
	mel.UseRawLength = true
	l := &Loader{manifest: m, mel: mel}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.Component("dataset")
	}
	return l
}

// Open 读取清单并创建 Loader。
func Open(manifestPath string, opts ...LoaderOption) (*Loader, error) {
	m, err := OpenManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return NewLoader(m, opts...), nil
}

// Len 返回会产出的样本数。
func (l *Loader) Len() int {
	if l.limit > 0 && l.limit < l.manifest.Len() {
		return l.limit
	}
	return l.manifest.Len()
}

// Next 返回下一条样本，读完后返回 io.EOF。
// 单条样本读取失败时返回的错误带有样本 ID，调用方可以跳过后继续。
func (l *Loader) Next(ctx context.Context) (*core.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	i := l.next
	if i >= l.Len() {
		l.mu.Unlock()
		return nil, io.EOF
	}
	l.next++
	l.mu.Unlock()
	return l.Load(i)
}

// SampleError 是单条样本读取失败的错误，带有样本 ID。
type SampleError struct {
	ID  string
	Err error
}

func (e *SampleError) Error() string { return fmt.Sprintf("sample %s: %v", e.ID, e.Err) }

func (e *SampleError) Unwrap() error { return e.Err }

// Load 读取第 i 条样本。失败时返回 *SampleError。
func (l *Loader) Load(i int) (*core.Sample, error) {
	e := l.manifest.Data[i]
	img, err := LoadImage(l.manifest.ImagePath(i))
	if err != nil {
		return nil, &SampleError{ID: e.ID(), Err: err}
	}
	samples, rate, err := LoadWav(l.manifest.AudioPath(i))
	if err != nil {
		return nil, &SampleError{ID: e.ID(), Err: err}
	}
	mel, frames, err := feature.MelSpectrogram(samples, rate, l.mel)
	if err != nil {
		return nil, &SampleError{ID: e.ID(), Err: err}
	}
	l.logger.WithFields(logrus.Fields{"sample": e.ID(), "frames": frames}).Debug("sample loaded")
	return &core.Sample{
		ID:      e.ID(),
		Speaker: e.Speaker,
		Text:    e.ASRText,
		Image:   img,
		Mel:     mel,
		Frames:  frames,
	}, nil
}

// LoadImage 读取 JPEG 或 PNG 图像，格式按文件内容判断而不是扩展名。
func LoadImage(path string) (image.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeNotFound, err, "read image")
	}
	kind, _ := filetype.Match(raw)
	var img image.Image
	switch kind.MIME.Value {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(raw))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(raw))
	default:
		return nil, core.NewDomainError(core.ModuleDataset, core.ErrorCodeNotSupported,
			fmt.Sprintf("%s: unsupported image type %q", path, kind.MIME.Value))
	}
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput, err, "decode image %s", path)
	}
	return img, nil
}

// LoadWav 读取 PCM wav，多声道取平均，返回 [-1, 1] 的采样和采样率。
func LoadWav(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeNotFound, err, "open audio")
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, core.NewDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput,
			fmt.Sprintf("%s: not a valid wav file", path))
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput, err, "decode wav %s", path)
	}
	if d.BitDepth == 0 || d.BitDepth > 32 {
		return nil, 0, core.NewDomainError(core.ModuleDataset, core.ErrorCodeNotSupported,
			fmt.Sprintf("%s: bit depth %d", path, d.BitDepth))
	}
	channels := int(d.NumChans)
	if channels <= 0 {
		channels = 1
	}
	scale := float64(int64(1) << (d.BitDepth - 1))
	if d.BitDepth == 8 {
		// 8 位 PCM 是无符号的
		scale = 128
	}

	n := len(buf.Data) / channels
	out := make([]float64, n)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if d.BitDepth == 8 {
				v -= 128
			}
			sum += v
		}
		out[i] = sum / float64(channels) / scale
	}
	return out, int(d.SampleRate), nil
}
