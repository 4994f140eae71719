package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TIANLI0/ToonKit/config"
	"github.com/TIANLI0/ToonKit/handler"
	"github.com/TIANLI0/ToonKit/utils"
	"github.com/spf13/cobra"
)

var (
	// cfg 在 PersistentPreRunE 中加载一次，供各子命令共享
	cfg        *config.Config
	configPath string
	buildInfo  handler.BuildInfo
)

var rootCmd = &cobra.Command{
	Use:   "toonkit",
	Short: "Turn photos into cartoon-style PNGs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cmd.Flags().Changed("config") {
			// 显式指定的路径必须存在，默认路径允许缺失
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.New(configPath)
		}
		if err != nil {
			return err
		}

		if err := utils.InitLogger(cfg.Server.Mode); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.Sync()
	},
	SilenceUsage: true,
}

// Execute 执行根命令，收到 SIGINT/SIGTERM 时取消 context
func Execute(info handler.BuildInfo) {
	buildInfo = info
	rootCmd.Version = info.Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
}
