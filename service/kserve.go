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

// KServeEncoder 是 KServe V2（Open Inference Protocol）的编码器实现。
//
//   - Infer: POST /v2/models/{model_name}[/versions/{version}]/infer
//   - 请求：{"inputs": [{"name": "input0", "shape": [...], "datatype": "FP32", "data": [...]}]}
//   - 响应：{"outputs": [{"name": "...", "shape": [...], "datatype": "FP32", "data": [...]}]}
//   - Model Ready: GET /v2/models/{model_name}/ready
type KServeEncoder struct {
	// Endpoint 服务根地址，如 "http://localhost:8000"
	Endpoint string
	// ModelName 模型名称
	ModelName string
	// ModelVersion 模型版本（可选，路径中会带 /versions/{version}）
	ModelVersion string
	// InputName 输入张量名称，默认 "input0"
	InputName string
	// OutputName 期望的输出张量名称；空则取 outputs[0]
	OutputName string
	// Timeout 请求超时
	Timeout time.Duration
	// Auth 认证配置
	Auth *AuthConfig

	httpClient *http.Client
}

// NewKServeEncoder 创建 KServe 编码器。
func NewKServeEncoder(endpoint, modelName string, opts ...KServeOption) *KServeEncoder {
	e := &KServeEncoder{
		Endpoint:  endpoint,
		ModelName: modelName,
		InputName: "input0",
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

// KServeOption 配置 KServe 编码器
type KServeOption func(*KServeEncoder)

// WithKServeVersion 设置模型版本
func WithKServeVersion(version string) KServeOption {
	return func(e *KServeEncoder) { e.ModelVersion = version }
}

// WithKServeInputName 设置输入张量名称
func WithKServeInputName(name string) KServeOption {
	return func(e *KServeEncoder) { e.InputName = name }
}

// WithKServeOutputName 设置期望的输出张量名称
func WithKServeOutputName(name string) KServeOption {
	return func(e *KServeEncoder) { e.OutputName = name }
}

// WithKServeTimeout 设置超时
func WithKServeTimeout(timeout time.Duration) KServeOption {
	return func(e *KServeEncoder) {
		e.Timeout = timeout
		if e.httpClient != nil {
			e.httpClient.Timeout = timeout
		}
	}
}

// WithKServeAuth 设置认证
func WithKServeAuth(auth *AuthConfig) KServeOption {
	return func(e *KServeEncoder) { e.Auth = auth }
}

// WithKServeHTTPClient 设置自定义 HTTP 客户端
func WithKServeHTTPClient(c *http.Client) KServeOption {
	return func(e *KServeEncoder) { e.httpClient = c }
}

func (e *KServeEncoder) Name() string { return "kserve:" + e.ModelName }

func (e *KServeEncoder) modelPath() string {
	p := fmt.Sprintf("%s/v2/models/%s", e.Endpoint, e.ModelName)
	if e.ModelVersion != "" {
		p += "/versions/" + e.ModelVersion
	}
	return p
}

type v2Tensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type v2Request struct {
	Inputs []v2Tensor `json:"inputs"`
}

type v2Response struct {
	ModelName string     `json:"model_name"`
	Outputs   []v2Tensor `json:"outputs"`
}

// Encode 执行一次 V2 推理，返回选中的输出张量。
func (e *KServeEncoder) Encode(s *nn.Session, x *tensor.Tensor) (*tensor.Tensor, error) {
	req := v2Request{Inputs: []v2Tensor{{
		Name:     e.InputName,
		Shape:    x.Shape(),
		Datatype: "FP32",
		Data:     x.Data(),
	}}}
	body, err := postJSON(s.Context(), e.httpClient, e.modelPath()+"/infer", e.Auth, req)
	if err != nil {
		return nil, fmt.Errorf("kserve %s: %w", e.ModelName, err)
	}
	out, err := e.pickOutput(body)
	if err != nil {
		return nil, fmt.Errorf("kserve %s: %w", e.ModelName, err)
	}
	return out, nil
}

func (e *KServeEncoder) pickOutput(body []byte) (*tensor.Tensor, error) {
	var resp v2Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "unable to parse response")
	}
	if len(resp.Outputs) == 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "no outputs in response")
	}
	chosen := resp.Outputs[0]
	if e.OutputName != "" {
		found := false
		for _, o := range resp.Outputs {
			if o.Name == e.OutputName {
				chosen, found = o, true
				break
			}
		}
		if !found {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotFound,
				fmt.Sprintf("output %q not in response", e.OutputName))
		}
	}
	if chosen.Datatype != "" && chosen.Datatype != "FP32" && chosen.Datatype != "FP64" {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			fmt.Sprintf("output datatype %s", chosen.Datatype))
	}
	return tensorPayload{Shape: chosen.Shape, Data: chosen.Data}.tensor()
}

// Health 检查模型是否就绪
func (e *KServeEncoder) Health(ctx context.Context) error {
	if err := get(ctx, e.httpClient, e.modelPath()+"/ready", e.Auth); err != nil {
		return fmt.Errorf("kserve health: %w", err)
	}
	return nil
}

var _ RemoteEncoder = (*KServeEncoder)(nil)
