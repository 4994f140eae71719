package cmd

import (
	"fmt"
	"os"

	"github.com/TIANLI0/ToonKit/service"
	"github.com/spf13/cobra"
)

type convertOptions struct {
	Input   string
	Output  string
	Variant string
}

var convertOpts convertOptions

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Cartoonize a single image file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, convertOpts)
	},
}

func init() {
	convertCmd.Flags().StringVarP(&convertOpts.Input, "input", "i", "", "Path to the source image")
	convertCmd.Flags().StringVarP(&convertOpts.Output, "output", "o", "", "Path of the PNG to write (default: <input>.cartoon.png)")
	convertCmd.Flags().StringVarP(&convertOpts.Variant, "variant", "v", "", "Pipeline variant: vibrant or simple (default from config)")

	convertCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, opts convertOptions) error {
	svc, err := service.NewCartoonService(&cfg.Cartoon)
	if err != nil {
		return err
	}

	variant, err := service.ParseVariant(opts.Variant, svc.DefaultVariant())
	if err != nil {
		return err
	}

	output := opts.Output
	if output == "" {
		output = opts.Input + ".cartoon.png"
	}

	if err := convertFile(cmd.Context(), svc, opts.Input, output, variant); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
	return nil
}

func writeOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
