package main

import (
	"fmt"
	"image"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rushteam/alignkit/config"
	"github.com/rushteam/alignkit/core"
	"github.com/rushteam/alignkit/dataset"
	"github.com/rushteam/alignkit/labels"
)

func newClassifyCommand(cc *commandContext) *cobra.Command {
	var imagePath, variant, modelPath string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Predict the Places205 scene category of an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := cc.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("variant") {
				f.Classifier.Variant = variant
			}
			if cmd.Flags().Changed("model") {
				f.Classifier.ModelPath = modelPath
			}

			img, err := dataset.LoadImage(imagePath)
			if err != nil {
				return err
			}
			env := config.NewEnv(cmd.Context(), f)
			defer env.Close()
			rows, err := classifyImage(cmd, env, img)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(imagePath, []string{"field", "value"}, rows, nil, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Image file")
	cmd.Flags().StringVar(&variant, "variant", "", "Backbone name, e.g. vgg16_places or none")
	cmd.Flags().StringVar(&modelPath, "model", "", "Backbone weights")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// classifyImage 运行场景分类器并返回展示行；没有骨干时返回 core.ErrNoBackbone。
func classifyImage(cmd *cobra.Command, env *config.Env, img image.Image) ([][]string, error) {
	c, err := env.Classifier()
	if err != nil {
		return nil, err
	}
	res, err := c.Classify(cmd.Context(), img)
	if err != nil {
		return nil, err
	}
	if res.Missing {
		return nil, fmt.Errorf("classify with %s: %w", res.Variant, core.ErrNoBackbone)
	}

	label := res.Label
	if label == "" {
		t, err := env.Labels()
		if err != nil {
			return nil, err
		}
		if t != nil {
			if name, err := t.Lookup(res.ClassIndex); err == nil {
				label = name
			}
		}
	}
	rows := [][]string{
		{"variant", res.Variant},
		{"class index", strconv.Itoa(res.ClassIndex)},
	}
	if label != "" {
		rows = append(rows, []string{"scene", labels.Display(label)})
	}
	return rows, nil
}
