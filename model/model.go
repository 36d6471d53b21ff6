package model

import (
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
)

// Network 是带名字的推理网络，本地加载的预训练骨干都实现它。
type Network interface {
	nn.Module
	Name() string
}

// Encoder 是编码阶段的最小抽象：输入一个批量张量，输出嵌入。
// 具体实现可以是本地网络（DaveNet 音频/图像塔）或远程服务（TorchServe）。
//
// 调用方负责管理 Session（取消信号与推理作用域），Encoder 只做前向。
type Encoder interface {
	Name() string
	Encode(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error)
}

// networkEncoder 把本地网络适配为 Encoder。
type networkEncoder struct {
	net Network
}

// AsEncoder 把本地网络包装为 Encoder。
func AsEncoder(net Network) Encoder {
	return networkEncoder{net: net}
}

func (e networkEncoder) Name() string { return e.net.Name() }

func (e networkEncoder) Encode(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	return e.net.Forward(s, x)
}
