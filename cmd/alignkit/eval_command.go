package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rushteam/alignkit/config"
	"github.com/rushteam/alignkit/dataset"
	"github.com/rushteam/alignkit/logging"
	"github.com/rushteam/alignkit/pipeline"
	"github.com/rushteam/alignkit/runner"
	"github.com/rushteam/alignkit/store"
)

// maxListed 是汇总中类别与失败样本最多列出的行数。
const maxListed = 10

func newEvalCommand(cc *commandContext) *cobra.Command {
	var (
		workers    int
		limit      int
		top        int
		runID      string
		filterExpr string
		failFast   bool
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the evaluation pipeline over a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := cc.load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("workers") {
				f.Workers = workers
			}
			if flags.Changed("limit") {
				f.Dataset.Limit = limit
			}
			if flags.Changed("fail-fast") {
				f.FailFast = failFast
			}
			if filterExpr != "" {
				f.Pipeline.Nodes = withFilter(f.Pipeline.Nodes, filterExpr)
			}
			if err := f.Validate(); err != nil {
				return err
			}
			return runEval(cmd.Context(), cmd.OutOrStdout(), f, runID, top)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of samples evaluated concurrently")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Evaluate only the first N samples")
	cmd.Flags().IntVar(&top, "top", 5, "Rows shown per metric in the leaderboard")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (reuse one to resume with a 'done' filter)")
	cmd.Flags().StringVar(&filterExpr, "filter", "", "CEL expression; only matching samples reach the sink")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failed sample")
	return cmd
}

// withFilter 在第一个 sink 节点之前插入 filter.expr。
func withFilter(nodes []pipeline.NodeConfig, expr string) []pipeline.NodeConfig {
	if len(nodes) == 0 {
		nodes = config.DefaultNodes()
	}
	node := pipeline.NodeConfig{Type: "filter.expr", Config: map[string]interface{}{"expr": expr}}
	out := make([]pipeline.NodeConfig, 0, len(nodes)+1)
	inserted := false
	for _, n := range nodes {
		if !inserted && strings.HasPrefix(n.Type, "sink.") {
			out = append(out, node)
			inserted = true
		}
		out = append(out, n)
	}
	if !inserted {
		out = append(out, node)
	}
	return out
}

func runEval(ctx context.Context, out io.Writer, f *config.File, runID string, top int, opts ...config.EnvOption) error {
	logger := logging.Component("cli")
	if f.Dataset.Archive != "" {
		extracted, err := dataset.Extract(ctx, f.Dataset.Archive, f.Dataset.Dir)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"path":      f.Dataset.Archive,
			"extracted": extracted,
		}).Info("dataset ready")
	}

	loader, err := dataset.Open(f.Dataset.ManifestPath(),
		dataset.WithMelConfig(f.Dataset.Mel),
		dataset.WithLimit(f.Dataset.Limit),
	)
	if err != nil {
		return err
	}

	env := config.NewEnv(ctx, f, append(opts, config.WithRunID(runID))...)
	defer env.Close()
	p, err := env.BuildPipeline()
	if err != nil {
		return err
	}

	r := runner.New(p,
		runner.WithWorkers(f.Workers),
		runner.WithFailFast(f.FailFast),
		runner.WithTopN(top),
	)
	sum, runErr := r.Run(ctx, env.RunContext(), loader)
	if sum != nil {
		fmt.Fprintln(out, renderSummary(sum, shouldColorize(out)))
	}
	return runErr
}

func renderSummary(sum *runner.Summary, colorize bool) string {
	var b strings.Builder
	rows := [][]string{
		{"samples", strconv.Itoa(sum.Count)},
		{"scored", strconv.Itoa(sum.Scored)},
		{"failed", strconv.Itoa(sum.Failed)},
		{"filtered", strconv.Itoa(sum.Dropped)},
		{"no backbone", strconv.Itoa(sum.Missing)},
		{"mean SISA", formatScore(sum.Mean.SISA)},
		{"mean MISA", formatScore(sum.Mean.MISA)},
		{"mean SIMA", formatScore(sum.Mean.SIMA)},
		{"duration", sum.Duration.Round(1e6).String()},
	}
	b.WriteString(renderTable("run "+sum.RunID, []string{"metric", "value"}, rows, []columnAlignment{alignLeft, alignRight}, colorize))

	if names := sum.ClassNames(); len(names) > 0 {
		rows = rows[:0]
		for _, name := range names[:min(maxListed, len(names))] {
			rows = append(rows, []string{name, strconv.Itoa(sum.Classes[name])})
		}
		b.WriteString("\n")
		b.WriteString(renderTable("scenes", []string{"class", "samples"}, rows, []columnAlignment{alignLeft, alignRight}, colorize))
	}

	for _, metric := range store.Metrics {
		ranked := sum.Top[metric]
		if len(ranked) == 0 {
			continue
		}
		rows = rows[:0]
		for i, r := range ranked {
			rows = append(rows, []string{strconv.Itoa(i + 1), r.SampleID, formatScore(r.Score)})
		}
		b.WriteString("\n")
		b.WriteString(renderTable("top "+strings.ToUpper(metric), []string{"#", "sample", metric}, rows, []columnAlignment{alignRight, alignLeft, alignRight}, colorize))
	}

	rows = rows[:0]
	for _, ev := range sum.Evaluations {
		if ev.Err == nil {
			continue
		}
		if len(rows) == maxListed {
			break
		}
		rows = append(rows, []string{ev.ID(), ev.Err.Error()})
	}
	if len(rows) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable("failures", []string{"sample", "error"}, rows, nil, colorize))
	}
	return b.String()
}

func formatScore(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
