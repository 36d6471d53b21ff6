package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/labels"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/pkg/conv"
	"github.com/rushteam/alignkit/pkg/utils"
	"github.com/rushteam/alignkit/scorer"
	"github.com/rushteam/alignkit/store"
)

// Env 是一次运行共享的资源：模型、类别表与结果存储。
// 资源在第一次被 Node 使用时才构建，未出现在 pipeline 中的模型不会被加载。
type Env struct {
	File  *File
	RunID string

	ctx        context.Context
	logger     logrus.FieldLogger
	scorerOpts []scorer.Option

	mu         sync.Mutex
	alignment  *scorer.AlignmentScorer
	classifier *scorer.SceneClassifier
	table      *labels.Table
	tableDone  bool
	store      core.RankingStore
	ownStore   bool
}

// EnvOption 配置 Env。
type EnvOption func(*Env)

// WithRunID 指定 run id（续跑时复用上一次的 id）。
func WithRunID(id string) EnvOption {
	return func(e *Env) { e.RunID = id }
}

// WithLogger 设置日志。
func WithLogger(l logrus.FieldLogger) EnvOption {
	return func(e *Env) { e.logger = l }
}

// WithScorerOptions 透传给两个打分器的选项，例如注入编码器或骨干网络。
func WithScorerOptions(opts ...scorer.Option) EnvOption {
	return func(e *Env) { e.scorerOpts = append(e.scorerOpts, opts...) }
}

// WithStore 使用外部创建的存储，Env.Close 不会关闭它。
func WithStore(s core.RankingStore) EnvOption {
	return func(e *Env) { e.store = s }
}

// NewEnv 创建运行环境。run id 未指定时生成 UUID。
func NewEnv(ctx context.Context, f *File, opts ...EnvOption) *Env {
	if f == nil {
		f = Default()
	}
	e := &Env{File: f, ctx: ctx}
	for _, opt := range opts {
		opt(e)
	}
	if e.RunID == "" {
		e.RunID = uuid.NewString()
	}
	if e.logger == nil {
		e.logger = logging.Component("config")
	}
	e.logger = e.logger.WithField("run_id", e.RunID)
	return e
}

// Context 返回创建 Env 时的 context，构建 Node 时加载资源使用。
func (e *Env) Context() context.Context { return e.ctx }

// Logger 返回带 run_id 字段的日志器。
func (e *Env) Logger() logrus.FieldLogger { return e.logger }

func (e *Env) scorerOptions() []scorer.Option {
	return append([]scorer.Option{scorer.WithLogger(e.logger)}, e.scorerOpts...)
}

// Alignment 返回共享的对齐打分器。
func (e *Env) Alignment() (*scorer.AlignmentScorer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.alignment != nil {
		return e.alignment, nil
	}
	s, err := scorer.NewAlignmentScorer(e.File.Models, e.scorerOptions()...)
	if err != nil {
		return nil, err
	}
	e.alignment = s
	return s, nil
}

// Classifier 返回共享的场景分类器。
func (e *Env) Classifier() (*scorer.SceneClassifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.classifier != nil {
		return e.classifier, nil
	}
	c, err := scorer.NewSceneClassifier(e.File.Classifier, e.scorerOptions()...)
	if err != nil {
		return nil, err
	}
	e.classifier = c
	return c, nil
}

// Labels 返回类别表；配置中没有 labels 时返回 (nil, nil)。
func (e *Env) Labels() (*labels.Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tableDone {
		return e.table, nil
	}
	if e.File.Labels != "" {
		t, err := labels.Load(e.ctx, e.File.Labels)
		if err != nil {
			return nil, err
		}
		e.table = t
	}
	e.tableDone = true
	return e.table, nil
}

// Store 返回结果存储。
func (e *Env) Store() (core.RankingStore, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	s, err := store.New(e.ctx, e.File.Store)
	if err != nil {
		return nil, err
	}
	e.store, e.ownStore = s, true
	e.logger.WithField("store", s.Name()).Info("result store opened")
	return s, nil
}

// RunContext 返回本次运行的 RunContext。
func (e *Env) RunContext() *core.RunContext {
	rctx := &core.RunContext{
		RunID:   e.RunID,
		Dataset: e.File.Dataset.ManifestPath(),
		Params:  conv.NormalizeNumbers(e.File.Params),
	}
	rctx.PutLabel("threshold", utils.Label{Value: fmt.Sprint(e.File.Models.Threshold), Source: "config"})
	rctx.PutLabel("variant", utils.Label{Value: e.File.Classifier.Variant, Source: "config"})
	return rctx
}

// BuildPipeline 按配置构建 Pipeline；配置中没有 Node 时使用 DefaultNodes。
func (e *Env) BuildPipeline() (*pipeline.Pipeline, error) {
	cfg := e.File.Config
	if len(cfg.Pipeline.Nodes) == 0 {
		cfg.Pipeline.Nodes = DefaultNodes()
	}
	if err := ValidatePipelineConfig(&cfg); err != nil {
		return nil, err
	}
	p, err := cfg.BuildPipeline(DefaultFactory(e))
	if err != nil {
		return nil, err
	}
	e.logger.WithField("nodes", p.Names()).Info("pipeline built")
	return p, nil
}

// Close 释放 Env 自己打开的存储。
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil || !e.ownStore {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}
