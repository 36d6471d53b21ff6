package model

import (
	"fmt"
	"strings"

	"github.com/rushteam/alignkit/tensor"
	"github.com/rushteam/alignkit/weights"
)

// ConvertCaffeGoogLeNet 把 Caffe 转换工具导出的 GoogLeNet 权重翻译成 GoogLeNet 的参数名与布局：
//
//   - key：inception_3a/1x1/weights -> inception_3a_1x1.weight，biases -> bias
//   - 卷积权重：HWIO -> OIHW
//   - 全连接权重：(in, out) -> (out, in)
func ConvertCaffeGoogLeNet(sd weights.StateDict) (weights.StateDict, error) {
	return weights.Translate(sd, weights.WithTransform(caffeEntry))
}

func caffeEntry(name string, t *tensor.Tensor) (string, *tensor.Tensor, error) {
	i := strings.LastIndex(name, "/")
	if i <= 0 {
		return "", nil, fmt.Errorf("caffe key %q has no layer path", name)
	}
	layer := strings.ReplaceAll(name[:i], "/", "_")
	var param string
	switch name[i+1:] {
	case "weights":
		param = "weight"
	case "biases":
		param = "bias"
	default:
		return "", nil, fmt.Errorf("caffe key %q: unknown parameter %q", name, name[i+1:])
	}

	if param == "weight" {
		var err error
		switch t.NDim() {
		case 4:
			t, err = t.Permute(3, 2, 0, 1)
		case 2:
			t, err = t.Permute(1, 0)
		default:
			err = fmt.Errorf("unexpected weight rank %d", t.NDim())
		}
		if err != nil {
			return "", nil, fmt.Errorf("caffe key %q: %w", name, err)
		}
	}
	return layer + "." + param, t, nil
}

// LoadGoogLeNetCaffe 加载 Caffe 格式（.npz）的 GoogLeNet 权重，格式转换在加载器内部完成。
func LoadGoogLeNetCaffe(sd weights.StateDict, cfg GoogLeNetConfig) (*GoogLeNet, error) {
	converted, err := ConvertCaffeGoogLeNet(sd)
	if err != nil {
		return nil, fmt.Errorf("convert caffe googlenet: %w", err)
	}
	return LoadGoogLeNet(converted, cfg)
}
