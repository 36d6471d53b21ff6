// Package service 把远程部署的编码模型（TorchServe、KServe V2）适配为 model.Encoder，
// 使对齐打分器可以在没有本地权重的机器上运行。
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/rushteam/alignkit/model"
)

// ServiceType 服务类型
type ServiceType string

const (
	ServiceTypeTorchServe ServiceType = "torch_serve" // TorchServe REST
	ServiceTypeKServe     ServiceType = "kserve"      // KServe V2 (Open Inference Protocol)
)

// Config 远程编码服务配置
type Config struct {
	// Type 服务类型
	Type ServiceType

	// Endpoint 服务根地址，如 "http://localhost:8080"
	Endpoint string

	// ModelName 模型名称
	ModelName string

	// ModelVersion 模型版本（可选）
	ModelVersion string

	// Timeout 超时时间，0 表示 30 秒
	Timeout time.Duration

	// Auth 认证信息（可选）
	Auth *AuthConfig
}

// AuthConfig 认证配置
type AuthConfig struct {
	Type     string // "basic", "bearer", "api_key"
	Username string
	Password string
	Token    string
	APIKey   string
}

// RemoteEncoder 是带健康检查的远程编码器。
type RemoteEncoder interface {
	model.Encoder
	Health(ctx context.Context) error
}

// addAuth 添加认证信息到 HTTP 请求
func addAuth(req *http.Request, auth *AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", auth.APIKey)
	}
}
