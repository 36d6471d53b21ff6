// Package logging 提供进程级的 logrus 日志器。
//
// 组件通过 WithLogger 选项接收 logrus.FieldLogger；未设置时使用 Logger()。
// 常用字段：component、sample、variant、path、run_id。
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	std  *logrus.Logger
)

// Logger 返回进程级日志器，首次调用时以 info 级别、文本格式初始化。
func Logger() *logrus.Logger {
	once.Do(func() {
		std = logrus.New()
		std.SetOutput(os.Stderr)
		std.SetLevel(logrus.InfoLevel)
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return std
}

// Config 是日志配置（对应配置文件的 log 段）。
type Config struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text | json
}

// Configure 按配置调整进程级日志器。未知级别返回错误，日志器保持不变。
func Configure(cfg Config, out io.Writer) error {
	l := Logger()
	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		l.SetLevel(level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if out != nil {
		l.SetOutput(out)
	}
	return nil
}

// Component 返回带 component 字段的日志器。
func Component(name string) logrus.FieldLogger {
	return Logger().WithField("component", name)
}

// Discard 返回丢弃所有输出的日志器，用于测试。
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
