package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TIANLI0/ToonKit/config"
	"github.com/TIANLI0/ToonKit/model"
	"github.com/TIANLI0/ToonKit/service"
	"github.com/TIANLI0/ToonKit/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// imageExtensions 批量模式收集的扩展名，能否解码由 OpenCV 决定
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".webp": true, ".tif": true, ".tiff": true,
}

type batchOptions struct {
	InputDir  string
	OutputDir string
	Variant   string
	Workers   int
}

var batchOpts batchOptions

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Cartoonize every image in a directory with parallel workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatchCmd(cmd, batchOpts)
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchOpts.InputDir, "input", "i", "", "Directory with source images")
	batchCmd.Flags().StringVarP(&batchOpts.OutputDir, "output", "o", "", "Directory for cartoon PNGs (default: <input>/cartoon)")
	batchCmd.Flags().StringVarP(&batchOpts.Variant, "variant", "v", "", "Pipeline variant: vibrant or simple (default from config)")
	batchCmd.Flags().IntVarP(&batchOpts.Workers, "workers", "w", 4, "Number of parallel workers")

	batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// processor 批量模式所需的 CartoonService 子集
type processor interface {
	Process(ctx context.Context, data []byte, v service.Variant) (*model.CartoonResult, error)
}

type batchResult struct {
	Input  string
	Output string
	Err    error
}

type batchSummary struct {
	Processed int
	Failed    []batchResult
	// 取消后未处理的文件数
	Skipped  int
	Duration time.Duration
}

func runBatchCmd(cmd *cobra.Command, opts batchOptions) error {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = filepath.Join(opts.InputDir, "cartoon")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	files, err := collectImages(opts.InputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "no images found in %s\n", opts.InputDir)
		return nil
	}

	// 每个 worker 一个槽位，worker 不会在信号量上排队
	svc, err := service.NewCartoonService(&config.CartoonConfig{
		Variant:       cfg.Cartoon.Variant,
		MaxConcurrent: opts.Workers,
	})
	if err != nil {
		return err
	}

	variant, err := service.ParseVariant(opts.Variant, svc.DefaultVariant())
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Cartoonizing"),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
	)

	summary := runBatch(cmd.Context(), svc, files, outDir, variant, opts.Workers, func() { _ = bar.Add(1) })
	_ = bar.Finish()

	printSummary(cmd.ErrOrStderr(), summary)
	return summary.Err(cmd.Context(), len(files))
}

// runBatch 将文件分发给 worker，每完成一个文件调用一次 done。
// 取消后不再派发新文件，未派发的文件计入 Skipped。
func runBatch(ctx context.Context, proc processor, files []string, outDir string, v service.Variant, workers int, done func()) batchSummary {
	start := time.Now()
	tasks := make(chan string)
	results := make(chan batchResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for input := range tasks {
				output := outputPath(outDir, input)
				results <- batchResult{Input: input, Output: output, Err: convertFile(ctx, proc, input, output, v)}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, f := range files {
			if ctx.Err() != nil {
				return
			}
			select {
			case tasks <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := batchSummary{}
	for res := range results {
		if res.Err != nil {
			utils.Logger.Warn("image failed", zap.String("file", res.Input), zap.Error(res.Err))
			summary.Failed = append(summary.Failed, res)
		} else {
			summary.Processed++
		}
		if done != nil {
			done()
		}
	}

	sort.Slice(summary.Failed, func(i, j int) bool { return summary.Failed[i].Input < summary.Failed[j].Input })
	summary.Skipped = len(files) - summary.Processed - len(summary.Failed)
	summary.Duration = time.Since(start)
	return summary
}

// Err 有失败、跳过或运行被取消时返回错误
func (s batchSummary) Err(ctx context.Context, total int) error {
	switch {
	case len(s.Failed) > 0:
		return fmt.Errorf("%d of %d images failed, %d skipped", len(s.Failed), total, s.Skipped)
	case s.Skipped > 0 || ctx.Err() != nil:
		if cause := context.Cause(ctx); cause != nil {
			return fmt.Errorf("batch interrupted, %d of %d images skipped: %w", s.Skipped, total, cause)
		}
		return fmt.Errorf("batch interrupted, %d of %d images skipped", s.Skipped, total)
	}
	return nil
}

func convertFile(ctx context.Context, proc processor, input, output string, v service.Variant) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}

	result, err := proc.Process(ctx, data, v)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	return writeOutput(output, result.PNG)
}

func collectImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func outputPath(outDir, input string) string {
	return filepath.Join(outDir, filepath.Base(input)+".cartoon.png")
}

func printSummary(w io.Writer, s batchSummary) {
	fmt.Fprintf(w, "\nProcessed %d images in %s, %d failed, %d skipped.\n",
		s.Processed, s.Duration.Round(time.Millisecond), len(s.Failed), s.Skipped)
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  %s: %v\n", f.Input, f.Err)
	}
}
