// Package runner 在数据集上并发执行评估 Pipeline，并汇总 SISA/MISA/SIMA 与类别分布。
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/dataset"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/pipeline"
)

// Source 逐条产出样本，读完返回 io.EOF。单条样本失败时返回其他错误，之后仍可继续读取。
type Source interface {
	Next(ctx context.Context) (*core.Sample, error)
}

// Runner 用固定数量的 worker 对每条样本执行一次 Pipeline。
// 每条样本独立：失败记录在 Evaluation.Err 上，不影响其他样本，除非开启 FailFast。
type Runner struct {
	pipeline *pipeline.Pipeline
	workers  int
	failFast bool
	topN     int
	logger   logrus.FieldLogger
}

// Option 配置 Runner。
type Option func(*Runner)

// WithWorkers 设置并发数，n <= 0 时为 1。
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithFailFast 让第一条失败的样本中止整个运行。
func WithFailFast(v bool) Option {
	return func(r *Runner) { r.failFast = v }
}

// WithTopN 设置汇总中每个指标保留的排名数，默认 5。
func WithTopN(n int) Option {
	return func(r *Runner) { r.topN = n }
}

// WithLogger 设置日志。
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.logger = l }
}

// New 创建 Runner。
func New(p *pipeline.Pipeline, opts ...Option) *Runner {
	r := &Runner{pipeline: p, workers: 1, topN: 5}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	if r.logger == nil {
		r.logger = logging.Component("runner")
	}
	return r
}

// Run 读取 src 直到 io.EOF，并发评估每条样本，返回汇总。
//
// rctx.RunID 为空时生成 UUID。ctx 取消或 FailFast 触发时返回已完成部分的汇总和错误。
func (r *Runner) Run(ctx context.Context, rctx *core.RunContext, src Source) (*Summary, error) {
	if rctx == nil {
		rctx = &core.RunContext{}
	}
	if rctx.RunID == "" {
		rctx.RunID = uuid.NewString()
	}
	logger := r.logger.WithField("run_id", rctx.RunID)
	logger.WithFields(logrus.Fields{
		"workers": r.workers,
		"nodes":   r.pipeline.Names(),
	}).Info("evaluation started")

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var evals []*core.Evaluation
	for {
		if gctx.Err() != nil {
			break
		}
		s, err := src.Next(gctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && gctx.Err() != nil {
			break
		}
		ev := newEvaluation(s, err)
		evals = append(evals, ev)
		g.Go(func() error { return r.process(gctx, rctx, ev, logger) })
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	sum := Summarize(rctx.RunID, evals, r.topN)
	sum.Duration = time.Since(start)
	entry := logger.WithFields(logrus.Fields{
		"count":    sum.Count,
		"failed":   sum.Failed,
		"dropped":  sum.Dropped,
		"misa":     sum.Mean.MISA,
		"duration": sum.Duration,
	})
	if err != nil {
		entry.WithError(err).Warn("evaluation stopped")
		return sum, err
	}
	entry.Info("evaluation finished")
	return sum, nil
}

// newEvaluation 为读取失败的样本也创建 Evaluation，使其能被记录与计数。
func newEvaluation(s *core.Sample, err error) *core.Evaluation {
	if err == nil {
		return core.NewEvaluation(s)
	}
	id := ""
	var se *dataset.SampleError
	if errors.As(err, &se) {
		id = se.ID
	}
	ev := core.NewEvaluation(&core.Sample{ID: id})
	ev.Err = err
	return ev
}

func (r *Runner) process(ctx context.Context, rctx *core.RunContext, ev *core.Evaluation, logger logrus.FieldLogger) error {
	if _, err := r.pipeline.Run(ctx, rctx, []*core.Evaluation{ev}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if ev.Err == nil {
			ev.Err = err
		}
	}

	entry := logger.WithField("sample", ev.ID())
	switch {
	case ev.Err != nil:
		entry.WithError(ev.Err).Warn("sample failed")
		if r.failFast {
			return fmt.Errorf("sample %s: %w", ev.ID(), ev.Err)
		}
	case ev.Dropped:
		entry.Debug("sample filtered")
	default:
		fields := logrus.Fields{}
		if a := ev.Alignment; a != nil {
			fields["sisa"], fields["misa"], fields["sima"] = a.Score.SISA, a.Score.MISA, a.Score.SIMA
		}
		if s := ev.Scene; s != nil && !s.Missing {
			fields["class_index"], fields["scene"] = s.ClassIndex, s.Label
		}
		entry.WithFields(fields).Info("sample scored")
	}
	return nil
}
