package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rushteam/alignkit/config"
	"github.com/rushteam/alignkit/dataset"
	"github.com/rushteam/alignkit/feature"
	"github.com/rushteam/alignkit/scorer"
)

func newScoreCommand(cc *commandContext) *cobra.Command {
	var (
		imagePath string
		wavPath   string
		threshold float64
		classify  bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single image against a spoken caption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := cc.load()
			if err != nil {
				return err
			}
			var opts []scorer.Option
			if cmd.Flags().Changed("threshold") {
				opts = append(opts, scorer.WithThreshold(threshold))
			}

			img, err := dataset.LoadImage(imagePath)
			if err != nil {
				return err
			}
			samples, rate, err := dataset.LoadWav(wavPath)
			if err != nil {
				return err
			}
			mel, frames, err := feature.MelSpectrogram(samples, rate, f.Dataset.Mel)
			if err != nil {
				return err
			}

			env := config.NewEnv(cmd.Context(), f, config.WithScorerOptions(opts...))
			defer env.Close()
			s, err := env.Alignment()
			if err != nil {
				return err
			}
			res, err := s.Score(cmd.Context(), mel, img)
			if err != nil {
				return err
			}

			rows := [][]string{
				{"frames", strconv.Itoa(frames)},
				{"image grid", fmt.Sprintf("%dx%d", res.ImageShape.H, res.ImageShape.W)},
				{"threshold", formatScore(res.Threshold)},
				{"matches", strconv.Itoa(res.Mask.Matches())},
				{"SISA", formatScore(res.Score.SISA)},
				{"MISA", formatScore(res.Score.MISA)},
				{"SIMA", formatScore(res.Score.SIMA)},
			}
			if classify {
				scene, err := classifyImage(cmd, env, img)
				if err != nil {
					return err
				}
				rows = append(rows, scene...)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(imagePath, []string{"metric", "value"}, rows, []columnAlignment{alignLeft, alignRight}, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Image file")
	cmd.Flags().StringVar(&wavPath, "wav", "", "Spoken caption (WAV)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Heatmap match threshold (default from config)")
	cmd.Flags().BoolVar(&classify, "classify", false, "Also run the scene classifier")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("wav")
	return cmd
}
