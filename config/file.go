// Package config 解析评估配置文件，并把 pipeline 段中的 Node 类型映射到构建逻辑。
//
// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/alignkit/config/builders"
// 以触发内置 Node（score.alignment、score.scene、label.places205、filter.expr、sink.store 等）的 init 注册。
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/feature"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/store"
)

// DatasetConfig 描述 PlacesAudio 风格的数据集。
type DatasetConfig struct {
	// Archive 非空时先把压缩包解压到 Dir
	Archive  string            `yaml:"archive" mapstructure:"archive"`
	Dir      string            `yaml:"dir" mapstructure:"dir"`
	Manifest string            `yaml:"manifest" mapstructure:"manifest"`
	Limit    int               `yaml:"limit" mapstructure:"limit"`
	Mel      feature.MelConfig `yaml:"mel" mapstructure:"mel"`
}

// ManifestPath 返回清单的路径：相对路径按 Dir 解析。
func (d DatasetConfig) ManifestPath() string {
	if d.Dir == "" || filepath.IsAbs(d.Manifest) {
		return d.Manifest
	}
	return filepath.Join(d.Dir, d.Manifest)
}

// File 是一次评估的完整配置。
//
//	log:        { level: info, format: text }
//	models:     { audio_model, image_model, threshold, audio_endpoint, image_endpoint, timeout }
//	classifier: { variant, model, no_grad, input_size }
//	dataset:    { archive, dir, manifest, limit, mel }
//	labels:     categoryindex_places205.csv
//	workers:    4
//	store:      { type: sqlite, path: results.db }
//	pipeline:   { name, nodes: [{type, config}] }
type File struct {
	Log        logging.Config        `yaml:"log" mapstructure:"log"`
	Models     core.AlignmentConfig  `yaml:"models" mapstructure:"models"`
	Classifier core.ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Dataset    DatasetConfig         `yaml:"dataset" mapstructure:"dataset"`
	Labels     string                `yaml:"labels" mapstructure:"labels"`
	Workers    int                   `yaml:"workers" mapstructure:"workers"`
	FailFast   bool                  `yaml:"fail_fast" mapstructure:"fail_fast"`
	Store      store.Config          `yaml:"store" mapstructure:"store"`
	// Params 是运行级参数，过滤表达式中以 rctx.params 访问
	Params map[string]any `yaml:"params" mapstructure:"params"`

	pipeline.Config `yaml:",inline" mapstructure:",squash"`
}

// Default 返回带默认值的配置：DaveNet 梅尔参数（保留原始长度）、内存存储、默认 worker 数。
func Default() *File {
	d := &core.DefaultEvalConfig{}
	mel := feature.DefaultMelConfig()
	mel.UseRawLength = true
	return &File{
		Log:        logging.Config{Level: "info", Format: "text"},
		Models:     core.AlignmentConfig{}.WithDefaults(d),
		Classifier: core.ClassifierConfig{}.WithDefaults(d),
		Dataset:    DatasetConfig{Mel: mel},
		Workers:    d.DefaultWorkers(),
		Store:      store.Config{Type: store.TypeMemory},
	}
}

// Load 从 YAML 文件加载配置，未出现的字段保留 Default 中的值。
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return f, nil
}

// DefaultNodes 是配置中没有 pipeline 段时使用的 Node 链。
func DefaultNodes() []pipeline.NodeConfig {
	return []pipeline.NodeConfig{
		{Type: "score.alignment"},
		{Type: "score.scene"},
		{Type: "label.places205"},
		{Type: "sink.store"},
	}
}

// Validate 检查配置能否启动一次评估。
func (f *File) Validate() error {
	if f.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", f.Workers)
	}
	if f.Dataset.Manifest == "" {
		return fmt.Errorf("dataset.manifest is required")
	}
	if f.Dataset.Archive != "" && f.Dataset.Dir == "" {
		return fmt.Errorf("dataset.dir is required when dataset.archive is set")
	}
	return ValidatePipelineConfig(&f.Config)
}
