package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rushteam/alignkit/core"
)

// 排行榜指标名。
const (
	MetricSISA = "sisa"
	MetricMISA = "misa"
	MetricSIMA = "sima"
)

// Metrics 是所有排行榜指标。
var Metrics = []string{MetricSISA, MetricMISA, MetricSIMA}

// ResultKey 返回单条结果的 key：alignkit:result:<run>:<id>。
func ResultKey(runID, sampleID string) string {
	return fmt.Sprintf("alignkit:result:%s:%s", runID, sampleID)
}

// RankKey 返回排行榜的 key：alignkit:rank:<run>:<metric>。
func RankKey(runID, metric string) string {
	return fmt.Sprintf("alignkit:rank:%s:%s", runID, metric)
}

// Record 是落盘的单条评估结果。
type Record struct {
	RunID     string                `json:"run_id"`
	SampleID  string                `json:"sample_id"`
	Speaker   string                `json:"speaker,omitempty"`
	Frames    int                   `json:"frames"`
	Alignment *core.AlignmentResult `json:"alignment,omitempty"`
	Matches   int                   `json:"matches"`
	Scene     *core.ClassifyResult  `json:"scene,omitempty"`
	Labels    map[string]string     `json:"labels,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// NewRecord 从评估结果构建 Record。
func NewRecord(runID string, ev *core.Evaluation) *Record {
	r := &Record{
		RunID:     runID,
		SampleID:  ev.ID(),
		Alignment: ev.Alignment,
		Scene:     ev.Scene,
	}
	if ev.Sample != nil {
		r.Speaker = ev.Sample.Speaker
		r.Frames = ev.Sample.Frames
	}
	if ev.Alignment != nil && ev.Alignment.Mask != nil {
		r.Matches = ev.Alignment.Mask.Matches()
	}
	if len(ev.Labels) > 0 {
		r.Labels = make(map[string]string, len(ev.Labels))
		for k, l := range ev.Labels {
			r.Labels[k] = l.Value
		}
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	return r
}

// Ranked 是排行榜中的一项。
type Ranked struct {
	SampleID string
	Score    float64
}

// ResultWriter 把评估结果写入 RankingStore，并维护三个指标的排行榜。
type ResultWriter struct {
	store core.RankingStore
	runID string
	ttl   int
}

// NewResultWriter 创建 ResultWriter，ttl 为结果过期秒数（0 不过期）。
func NewResultWriter(s core.RankingStore, runID string, ttl int) *ResultWriter {
	return &ResultWriter{store: s, runID: runID, ttl: ttl}
}

// RunID 返回写入时使用的 run id。
func (w *ResultWriter) RunID() string { return w.runID }

// Write 保存一条结果；有对齐分数时同时写入排行榜。
func (w *ResultWriter) Write(ctx context.Context, ev *core.Evaluation) error {
	rec := NewRecord(w.runID, ev)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", rec.SampleID, err)
	}
	if err := w.store.Set(ctx, ResultKey(w.runID, rec.SampleID), raw, w.ttl); err != nil {
		return fmt.Errorf("write result %s: %w", rec.SampleID, err)
	}
	if ev.Alignment == nil {
		return nil
	}
	s := ev.Alignment.Score
	for metric, v := range map[string]float64{MetricSISA: s.SISA, MetricMISA: s.MISA, MetricSIMA: s.SIMA} {
		if err := w.store.ZAdd(ctx, RankKey(w.runID, metric), v, rec.SampleID); err != nil {
			return fmt.Errorf("rank %s by %s: %w", rec.SampleID, metric, err)
		}
	}
	return nil
}

// Read 读取一条结果。
func Read(ctx context.Context, s core.Store, runID, sampleID string) (*Record, error) {
	raw, err := s.Get(ctx, ResultKey(runID, sampleID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", sampleID, err)
	}
	return &rec, nil
}

// Top 返回 metric 排名前 n 的样本，n <= 0 返回全部。
func Top(ctx context.Context, s core.RankingStore, runID, metric string, n int) ([]Ranked, error) {
	key := RankKey(runID, metric)
	stop := int64(n) - 1
	if n <= 0 {
		stop = -1
	}
	members, err := s.ZRange(ctx, key, 0, stop)
	if err != nil {
		return nil, err
	}
	out := make([]Ranked, 0, len(members))
	for _, m := range members {
		score, err := s.ZScore(ctx, key, m)
		if err != nil {
			return nil, err
		}
		out = append(out, Ranked{SampleID: m, Score: score})
	}
	return out, nil
}
