package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rushteam/alignkit/model"
	"github.com/rushteam/alignkit/weights"
)

func newInspectWeightsCommand() *cobra.Command {
	var remap bool
	cmd := &cobra.Command{
		Use:   "inspect-weights <file>",
		Short: "List the tensors in a weights file (.safetensors, .npz)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sd, err := weights.Load(args[0])
			if err != nil {
				return err
			}
			headers := []string{"key", "shape"}
			if remap {
				headers = append(headers, "torchvision")
			}
			rows := make([][]string, 0, len(sd))
			for _, key := range sd.Keys() {
				row := []string{key, shapeString(sd[key].Shape())}
				if remap {
					mapped, err := weights.Replace(key, model.VGG16CaffeLayerMap)
					if err != nil {
						mapped = "-"
					}
					row = append(row, mapped)
				}
				rows = append(rows, row)
			}
			out := cmd.OutOrStdout()
			title := fmt.Sprintf("%s (%d tensors)", args[0], len(sd))
			fmt.Fprintln(out, renderTable(title, headers, rows, nil, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&remap, "remap", false, "Show the torchvision name of Caffe-style VGG16 keys")
	return cmd
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
