package feature

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/tensor"
)

// ImageTransform 把图像转换为标准化的 (3, H, W) 张量：缩放 -> /255 -> 按通道标准化。
//
// ShortSide > 0 时按短边等比缩放；否则 Width/Height > 0 时缩放到固定尺寸；都为 0 则不缩放。
type ImageTransform struct {
	ShortSide     int
	Width, Height int
	Normalizer    *ZScoreNormalizer
}

// DefaultImageTransform 是 DaveNet 图像塔的预处理：短边 256。
func DefaultImageTransform() ImageTransform {
	return ImageTransform{
		ShortSide:  256,
		Normalizer: NewZScoreNormalizer(ImageNetMean, ImageNetStd),
	}
}

// ClassifierTransform 是场景分类器的预处理：缩放到 size x size。
func ClassifierTransform(size int) ImageTransform {
	return ImageTransform{
		Width:      size,
		Height:     size,
		Normalizer: NewZScoreNormalizer(ImageNetMean, ImageNetStd),
	}
}

// Apply 执行预处理。单通道（灰度、alpha）图像返回 DIMENSION_MISMATCH 错误。
func (t ImageTransform) Apply(img image.Image) (*tensor.Tensor, error) {
	if c := Channels(img); c != 3 {
		return nil, core.NewDimensionMismatchError(core.ModuleScorer, "expected 3-channel RGB image, got %d channel(s)", c)
	}
	switch {
	case t.ShortSide > 0:
		img = ResizeShortSide(img, t.ShortSide)
	case t.Width > 0 && t.Height > 0:
		img = Resize(img, t.Width, t.Height)
	}
	out := ToTensor(img)
	if t.Normalizer != nil {
		if err := t.Normalizer.Normalize(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Channels 按颜色模型推断通道数：灰度与 alpha 图为 1，其余按 RGB 处理为 3。
func Channels(img image.Image) int {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	}
	return 3
}

// ResizeShortSide 等比缩放使短边等于 size，长边按 size*long/short 向下取整。
func ResizeShortSide(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= h {
		if w == size {
			return img
		}
		return Resize(img, size, size*h/w)
	}
	if h == size {
		return img
	}
	return Resize(img, size*w/h, size)
}

// Resize 使用双线性插值缩放到 w x h。
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// ToTensor 把图像转换为 (3, H, W)、取值 [0, 1] 的张量。
func ToTensor(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := tensor.New(3, h, w)
	data := out.Data()
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			data[i] = float32(c.R) / 255
			data[plane+i] = float32(c.G) / 255
			data[2*plane+i] = float32(c.B) / 255
		}
	}
	return out
}
