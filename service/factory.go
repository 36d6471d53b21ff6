package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// NewEncoder 根据配置创建远程编码器（工厂方法）。
func NewEncoder(cfg *Config) (RemoteEncoder, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Type {
	case ServiceTypeTorchServe:
		opts := []TorchServeOption{WithTorchServeTimeout(timeout)}
		if cfg.ModelVersion != "" {
			opts = append(opts, WithTorchServeVersion(cfg.ModelVersion))
		}
		if cfg.Auth != nil {
			opts = append(opts, WithTorchServeAuth(cfg.Auth))
		}
		return NewTorchServeEncoder(cfg.Endpoint, cfg.ModelName, opts...), nil

	case ServiceTypeKServe:
		opts := []KServeOption{WithKServeTimeout(timeout)}
		if cfg.ModelVersion != "" {
			opts = append(opts, WithKServeVersion(cfg.ModelVersion))
		}
		if cfg.Auth != nil {
			opts = append(opts, WithKServeAuth(cfg.Auth))
		}
		return NewKServeEncoder(cfg.Endpoint, cfg.ModelName, opts...), nil

	default:
		return nil, fmt.Errorf("unsupported service type: %s", cfg.Type)
	}
}

// ParseEndpoint 从模型 URL 推断服务类型：
//
//	http://host:8080/predictions/davenet_audio[/1.0]     -> TorchServe
//	http://host:8000/v2/models/davenet_image[/versions/2] -> KServe V2
func ParseEndpoint(raw string, timeout time.Duration) (*Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if !hasHTTPPrefix(raw) || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an http(s) URL", raw)
	}
	root := u.Scheme + "://" + u.Host
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	cfg := &Config{Endpoint: root, Timeout: timeout}
	switch {
	case len(parts) >= 2 && parts[0] == "predictions":
		cfg.Type = ServiceTypeTorchServe
		cfg.ModelName = parts[1]
		if len(parts) >= 3 {
			cfg.ModelVersion = parts[2]
		}
	case len(parts) >= 3 && parts[0] == "v2" && parts[1] == "models":
		cfg.Type = ServiceTypeKServe
		cfg.ModelName = parts[2]
		if len(parts) >= 5 && parts[3] == "versions" {
			cfg.ModelVersion = parts[4]
		}
	default:
		return nil, fmt.Errorf("endpoint %q: path must be /predictions/{model} or /v2/models/{model}", raw)
	}
	return cfg, nil
}

// ValidateConfig 验证服务配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// hasHTTPPrefix 检查是否包含 HTTP 前缀
func hasHTTPPrefix(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
