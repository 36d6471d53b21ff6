package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/nn"
	"github.com/rushteam/alignkit/tensor"
)

// TorchServeEncoder 通过 TorchServe REST 接口远程执行编码器。
//
// REST API 格式：
//   - 推理端点：POST /predictions/{model_name}[/{version}]
//   - 请求体：{"shape": [N, C, H, W], "data": [...]}（行优先扁平数据）
//   - 响应：同样的 {"shape", "data"} 对象，或直接返回嵌套数组（形状由嵌套层次推断）
//   - 健康检查：GET /ping
//
// 服务端 Handler 负责把请求还原为张量并返回模型输出。
type TorchServeEncoder struct {
	// Endpoint 服务端点，如 "http://localhost:8080"
	Endpoint string

	// ModelName 模型名称
	ModelName string

	// ModelVersion 模型版本（可选）
	ModelVersion string

	// Timeout 超时时间
	Timeout time.Duration

	// Auth 认证信息
	Auth *AuthConfig

	httpClient *http.Client
}

// NewTorchServeEncoder 创建 TorchServe 编码器。
func NewTorchServeEncoder(endpoint, modelName string, opts ...TorchServeOption) *TorchServeEncoder {
	e := &TorchServeEncoder{
		Endpoint:  endpoint,
		ModelName: modelName,
		Timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: e.Timeout}
	}
	return e
}

// TorchServeOption TorchServe 编码器配置选项
type TorchServeOption func(*TorchServeEncoder)

// WithTorchServeVersion 设置模型版本
func WithTorchServeVersion(version string) TorchServeOption {
	return func(e *TorchServeEncoder) { e.ModelVersion = version }
}

// WithTorchServeTimeout 设置超时时间
func WithTorchServeTimeout(timeout time.Duration) TorchServeOption {
	return func(e *TorchServeEncoder) {
		e.Timeout = timeout
		if e.httpClient != nil {
			e.httpClient.Timeout = timeout
		}
	}
}

// WithTorchServeAuth 设置认证信息
func WithTorchServeAuth(auth *AuthConfig) TorchServeOption {
	return func(e *TorchServeEncoder) { e.Auth = auth }
}

// WithTorchServeHTTPClient 设置自定义 HTTP 客户端
func WithTorchServeHTTPClient(c *http.Client) TorchServeOption {
	return func(e *TorchServeEncoder) { e.httpClient = c }
}

func (e *TorchServeEncoder) Name() string { return "torchserve:" + e.ModelName }

func (e *TorchServeEncoder) url() string {
	u := fmt.Sprintf("%s/predictions/%s", e.Endpoint, e.ModelName)
	if e.ModelVersion != "" {
		u += "/" + e.ModelVersion
	}
	return u
}

// Encode 把 x 发送到服务端并返回输出张量。梯度开关对远程推理没有意义，忽略。
func (e *TorchServeEncoder) Encode(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	body, err := postJSON(s.Context(), e.httpClient, e.url(), e.Auth, newPayload(x))
	if err != nil {
		return nil, fmt.Errorf("torchserve %s: %w", e.ModelName, err)
	}
	out, err := decodeTorchServe(body)
	if err != nil {
		return nil, fmt.Errorf("torchserve %s: %w", e.ModelName, err)
	}
	return out, nil
}

func decodeTorchServe(body []byte) (*tensor.Tensor, error) {
	var obj tensorPayload
	if err := json.Unmarshal(body, &obj); err == nil && len(obj.Shape) > 0 {
		return obj.tensor()
	}
	var nested any
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "unable to parse response")
	}
	return decodeNested(nested)
}

// Health 健康检查
func (e *TorchServeEncoder) Health(ctx context.Context) error {
	if err := get(ctx, e.httpClient, e.Endpoint+"/ping", e.Auth); err != nil {
		return fmt.Errorf("torchserve health: %w", err)
	}
	return nil
}

var _ RemoteEncoder = (*TorchServeEncoder)(nil)
