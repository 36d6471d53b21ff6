package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/store"
)

func newTopCommand(cc *commandContext) *cobra.Command {
	var (
		runID  string
		metric string
		n      int
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the best aligned samples of a stored run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(store.Metrics, metric) {
				return fmt.Errorf("unknown metric %q (supported: %v)", metric, store.Metrics)
			}
			f, err := cc.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := store.New(ctx, f.Store)
			if err != nil {
				return err
			}
			defer s.Close()

			ranked, err := store.Top(ctx, s, runID, metric, n)
			if err != nil {
				return err
			}
			if len(ranked) == 0 {
				return fmt.Errorf("run %s has no ranked results in %s store", runID, s.Name())
			}
			rows := make([][]string, 0, len(ranked))
			for i, r := range ranked {
				scene := ""
				rec, err := store.Read(ctx, s, runID, r.SampleID)
				switch {
				case err == nil && rec.Scene != nil:
					scene = rec.Scene.Label
					if l, ok := rec.Labels["scene_display"]; ok {
						scene = l
					}
				case err != nil && !core.IsStoreNotFound(err):
					return err
				}
				rows = append(rows, []string{strconv.Itoa(i + 1), r.SampleID, formatScore(r.Score), scene})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(fmt.Sprintf("run %s by %s", runID, metric),
				[]string{"#", "sample", metric, "scene"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft}, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to inspect")
	cmd.Flags().StringVarP(&metric, "metric", "m", store.MetricMISA, "Ranking metric: sisa, misa or sima")
	cmd.Flags().IntVarP(&n, "count", "n", 10, "Number of samples (0 for all)")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}
