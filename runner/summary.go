package runner

import (
	"sort"
	"strconv"
	"time"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/store"
)

// Ranked 是某个指标排名中的一项。
type Ranked struct {
	SampleID string
	Score    float64
}

// Summary 是一次运行的汇总。均值只统计未被过滤且有对齐结果的样本。
type Summary struct {
	RunID   string
	Count   int
	Scored  int
	Failed  int
	Dropped int
	Mean    core.AlignmentScore
	// Classes 是预测类别的计数，类别名缺失时用 "#<index>"
	Classes map[string]int
	// Missing 是没有分类骨干的样本数
	Missing int
	// Top 按指标（sisa/misa/sima）降序保留前 N 名
	Top      map[string][]Ranked
	Duration time.Duration
	// Evaluations 按读取顺序排列
	Evaluations []*core.Evaluation
}

// Summarize 汇总评估结果，topN <= 0 时不计算排名。
func Summarize(runID string, evals []*core.Evaluation, topN int) *Summary {
	sum := &Summary{
		RunID:       runID,
		Classes:     make(map[string]int),
		Top:         make(map[string][]Ranked),
		Evaluations: evals,
	}
	ranked := make(map[string][]Ranked, len(store.Metrics))
	for _, ev := range evals {
		sum.Count++
		switch {
		case ev.Err != nil:
			sum.Failed++
			continue
		case ev.Dropped:
			sum.Dropped++
			continue
		}
		if a := ev.Alignment; a != nil {
			sum.Scored++
			sum.Mean.SISA += a.Score.SISA
			sum.Mean.MISA += a.Score.MISA
			sum.Mean.SIMA += a.Score.SIMA
			ranked[store.MetricSISA] = append(ranked[store.MetricSISA], Ranked{ev.ID(), a.Score.SISA})
			ranked[store.MetricMISA] = append(ranked[store.MetricMISA], Ranked{ev.ID(), a.Score.MISA})
			ranked[store.MetricSIMA] = append(ranked[store.MetricSIMA], Ranked{ev.ID(), a.Score.SIMA})
		}
		if s := ev.Scene; s != nil {
			if s.Missing {
				sum.Missing++
			} else {
				sum.Classes[className(s)]++
			}
		}
	}
	if sum.Scored > 0 {
		n := float64(sum.Scored)
		sum.Mean = core.AlignmentScore{SISA: sum.Mean.SISA / n, MISA: sum.Mean.MISA / n, SIMA: sum.Mean.SIMA / n}
	}
	if topN > 0 {
		for metric, items := range ranked {
			sort.SliceStable(items, func(i, j int) bool {
				if items[i].Score != items[j].Score {
					return items[i].Score > items[j].Score
				}
				return items[i].SampleID < items[j].SampleID
			})
			sum.Top[metric] = items[:min(topN, len(items))]
		}
	}
	return sum
}

func className(s *core.ClassifyResult) string {
	if s.Label != "" {
		return s.Label
	}
	return "#" + strconv.Itoa(s.ClassIndex)
}

// ClassNames 返回按计数降序（同数按名字）排列的类别名。
func (s *Summary) ClassNames() []string {
	out := make([]string, 0, len(s.Classes))
	for name := range s.Classes {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := s.Classes[out[i]], s.Classes[out[j]]
		if ci != cj {
			return ci > cj
		}
		return out[i] < out[j]
	})
	return out
}
