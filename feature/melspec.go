package feature

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/rushteam/alignkit/tensor"
)

// MelConfig 是对数梅尔谱的参数，默认值与 DaveNet 训练时的音频预处理一致。
type MelConfig struct {
	SampleRate   int     `yaml:"sample_rate" mapstructure:"sample_rate"`
	WindowSize   float64 `yaml:"window_size" mapstructure:"window_size"`     // 秒
	WindowStride float64 `yaml:"window_stride" mapstructure:"window_stride"` // 秒
	NumMelBins   int     `yaml:"num_mel_bins" mapstructure:"num_mel_bins"`
	FMin         float64 `yaml:"fmin" mapstructure:"fmin"`
	PreemphCoef  float64 `yaml:"preemph_coef" mapstructure:"preemph_coef"`
	TargetLength int     `yaml:"target_length" mapstructure:"target_length"`
	UseRawLength bool    `yaml:"use_raw_length" mapstructure:"use_raw_length"`
	PadValue     float64 `yaml:"padval" mapstructure:"padval"`
	TopDB        float64 `yaml:"top_db" mapstructure:"top_db"`
}

// DefaultMelConfig 返回 16kHz、25ms 汉明窗、10ms 步长、40 个梅尔带、目标长度 1024 帧的配置。
func DefaultMelConfig() MelConfig {
	return MelConfig{
		SampleRate:   16000,
		WindowSize:   0.025,
		WindowStride: 0.01,
		NumMelBins:   40,
		FMin:         20,
		PreemphCoef:  0.97,
		TargetLength: 1024,
		TopDB:        80,
	}
}

func (c MelConfig) nFFT() int { return int(float64(c.SampleRate) * c.WindowSize) }
func (c MelConfig) hop() int  { return int(float64(c.SampleRate) * c.WindowStride) }

// MelSpectrogram 计算 (NumMelBins, T) 的对数梅尔谱，并返回补齐/截断前的帧数。
//
// 流程：去均值 -> 预加重 -> 居中 STFT（反射填充，汉明窗）-> 功率谱
// -> Slaney 梅尔滤波器组 -> power_to_db(ref=max) -> 补齐或截断到 TargetLength。
// UseRawLength 时 T 等于实际帧数。sampleRate 与配置不同时先线性重采样。
func MelSpectrogram(samples []float64, sampleRate int, cfg MelConfig) (*tensor.Tensor, int, error) {
	nFFT, hop := cfg.nFFT(), cfg.hop()
	if nFFT <= 0 || hop <= 0 || cfg.NumMelBins <= 0 {
		return nil, 0, fmt.Errorf("melspec: invalid config n_fft=%d hop=%d mels=%d", nFFT, hop, cfg.NumMelBins)
	}
	if sampleRate <= 0 {
		return nil, 0, fmt.Errorf("melspec: invalid sample rate %d", sampleRate)
	}

	y := append([]float64(nil), Resample(samples, sampleRate, cfg.SampleRate)...)
	if len(y) == 0 {
		y = make([]float64, 200)
	}
	floats.AddConst(-floats.Sum(y)/float64(len(y)), y)
	y = Preemphasis(y, cfg.PreemphCoef)

	power := PowerSpectrogram(y, nFFT, hop, HammingWindow(nFFT))
	basis := MelFilterBank(cfg.SampleRate, nFFT, cfg.NumMelBins, cfg.FMin, float64(cfg.SampleRate)/2)

	frames := len(power)
	mel := make([]float64, cfg.NumMelBins*frames)
	for m, filter := range basis {
		for t, spec := range power {
			mel[m*frames+t] = floats.Dot(filter, spec)
		}
	}
	PowerToDB(mel, cfg.TopDB)

	target := cfg.TargetLength
	if cfg.UseRawLength || target <= 0 {
		target = frames
	}
	out := tensor.New(cfg.NumMelBins, target)
	data := out.Data()
	for m := 0; m < cfg.NumMelBins; m++ {
		for t := 0; t < target; t++ {
			v := cfg.PadValue
			if t < frames {
				v = mel[m*frames+t]
			}
			data[m*target+t] = float32(v)
		}
	}
	return out, min(frames, target), nil
}

// Preemphasis 返回 y[0], y[i] - coef*y[i-1]。
func Preemphasis(y []float64, coef float64) []float64 {
	if len(y) == 0 {
		return nil
	}
	out := make([]float64, len(y))
	out[0] = y[0]
	for i := 1; i < len(y); i++ {
		out[i] = y[i] - coef*y[i-1]
	}
	return out
}

// HammingWindow 返回长度 n 的对称汉明窗。
func HammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// reflectIndex 把越界下标按 numpy 的 reflect 模式映射回 [0, n)。
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// PowerSpectrogram 计算居中 STFT 的功率谱，返回 [frame][nFFT/2+1]。
// 帧数为 1 + len(y)/hop。
func PowerSpectrogram(y []float64, nFFT, hop int, window []float64) [][]float64 {
	pad := nFFT / 2
	frames := 1 + len(y)/hop
	fft := fourier.NewFFT(nFFT)
	seq := make([]float64, nFFT)
	coeff := make([]complex128, nFFT/2+1)

	out := make([][]float64, frames)
	for f := range out {
		start := f*hop - pad
		for i := range seq {
			seq[i] = y[reflectIndex(start+i, len(y))] * window[i]
		}
		coeff = fft.Coefficients(coeff, seq)
		spec := make([]float64, len(coeff))
		for k, c := range coeff {
			spec[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		out[f] = spec
	}
	return out
}

// Slaney 梅尔刻度：1kHz 以下线性，以上对数。
const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27

// HzToMel 按 Slaney 刻度把频率转换为梅尔。
func HzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

// MelToHz 是 HzToMel 的逆。
func MelToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return mel * melFSp
}

// MelFilterBank 构建 [nMels][nFFT/2+1] 的三角滤波器组，按 Slaney 方式做面积归一化。
func MelFilterBank(sampleRate, nFFT, nMels int, fmin, fmax float64) [][]float64 {
	nFreqs := nFFT/2 + 1
	fftFreqs := make([]float64, nFreqs)
	floats.Span(fftFreqs, 0, float64(sampleRate)/2)

	melPts := make([]float64, nMels+2)
	floats.Span(melPts, HzToMel(fmin), HzToMel(fmax))
	hz := make([]float64, len(melPts))
	for i, m := range melPts {
		hz[i] = MelToHz(m)
	}

	bank := make([][]float64, nMels)
	for m := range bank {
		lowDiff, highDiff := hz[m+1]-hz[m], hz[m+2]-hz[m+1]
		enorm := 2 / (hz[m+2] - hz[m])
		row := make([]float64, nFreqs)
		for k, f := range fftFreqs {
			lower := (f - hz[m]) / lowDiff
			upper := (hz[m+2] - f) / highDiff
			if w := math.Min(lower, upper); w > 0 {
				row[k] = w * enorm
			}
		}
		bank[m] = row
	}
	return bank
}

// PowerToDB 原地把功率转换为分贝：10*log10(max(amin, S)/max(S))，并截断到 max - topDB。
func PowerToDB(s []float64, topDB float64) {
	const amin = 1e-10
	if len(s) == 0 {
		return
	}
	ref := math.Max(amin, floats.Max(s))
	refDB := 10 * math.Log10(ref)
	for i, v := range s {
		s[i] = 10*math.Log10(math.Max(amin, v)) - refDB
	}
	if topDB > 0 {
		floor := floats.Max(s) - topDB
		for i, v := range s {
			if v < floor {
				s[i] = floor
			}
		}
	}
}

// Resample 用线性插值把 from Hz 的信号重采样到 to Hz。
func Resample(y []float64, from, to int) []float64 {
	if from == to || len(y) == 0 {
		return y
	}
	n := int(math.Ceil(float64(len(y)) * float64(to) / float64(from)))
	out := make([]float64, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(y)-1 {
			out[i] = y[len(y)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = y[j]*(1-frac) + y[j+1]*frac
	}
	return out
}
