package labels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Loader 从某个来源（本地文件、HTTP 接口）加载类别表。
type Loader interface {
	Load(ctx context.Context, source string) (*Table, error)
}

// FileLoader 读取本地类别文件。
type FileLoader struct{}

func (FileLoader) Load(_ context.Context, path string) (*Table, error) { return LoadCSV(path) }

// HTTPLoader 通过 GET 下载类别文件。
type HTTPLoader struct {
	client *http.Client
}

// NewHTTPLoader 创建 HTTPLoader，timeout 为 0 时使用 10 秒。
func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLoader{client: &http.Client{Timeout: timeout}}
}

// NewHTTPLoaderWithClient 使用自定义 HTTP 客户端创建加载器。
func NewHTTPLoaderWithClient(client *http.Client) *HTTPLoader {
	return &HTTPLoader{client: client}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (*Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("labels: %s: status=%d, body=%s", url, resp.StatusCode, string(body))
	}
	t, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("labels: %s: %w", url, err)
	}
	return t, nil
}

// Load 按来源选择加载器：http(s):// 开头走 HTTPLoader，否则按本地路径读取。
func Load(ctx context.Context, source string) (*Table, error) {
	var l Loader = FileLoader{}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		l = NewHTTPLoader(0)
	}
	return l.Load(ctx, source)
}
