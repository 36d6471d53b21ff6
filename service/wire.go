package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/tensor"
)

// tensorPayload 是张量在 HTTP 上的 JSON 形式：行优先的扁平数据 + 形状。
type tensorPayload struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func newPayload(t *tensor.Tensor) tensorPayload {
	return tensorPayload{Shape: t.Shape(), Data: t.Data()}
}

func (p tensorPayload) tensor() (*tensor.Tensor, error) {
	t, err := tensor.FromData(p.Data, p.Shape...)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "bad tensor in response")
	}
	return t, nil
}

// decodeNested 解析嵌套数组形式的张量（如 [[1,2],[3,4]]），形状由嵌套层次推断。
func decodeNested(v any) (*tensor.Tensor, error) {
	var shape []int
	for cur := v; ; {
		arr, ok := cur.([]any)
		if !ok {
			break
		}
		shape = append(shape, len(arr))
		if len(arr) == 0 {
			break
		}
		cur = arr[0]
	}
	if len(shape) == 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "response is not an array")
	}
	data := make([]float32, 0, tensor.Numel(shape))
	var walk func(v any, depth int) error
	walk = func(v any, depth int) error {
		if depth == len(shape) {
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("non-numeric element %v", v)
			}
			data = append(data, float32(f))
			return nil
		}
		arr, ok := v.([]any)
		if !ok || len(arr) != shape[depth] {
			return fmt.Errorf("ragged array at depth %d", depth)
		}
		for _, item := range arr {
			if err := walk(item, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(v, 0); err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "bad tensor in response")
	}
	return tensor.FromData(data, shape...)
}

// postJSON 发送 JSON 请求并返回响应体；非 200 状态视为错误。
func postJSON(ctx context.Context, client *http.Client, url string, auth *AuthConfig, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	addAuth(req, auth)
	return do(client, req)
}

func get(ctx context.Context, client *http.Client, url string, auth *AuthConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	addAuth(req, auth)
	_, err = do(client, req)
	return err
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInternalError, err, "request %s failed", req.URL.Path)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInternalError,
			fmt.Sprintf("%s: status=%d, body=%s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(body)))
	}
	return body, nil
}
