package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/TIANLI0/ToonKit/handler"
	"github.com/TIANLI0/ToonKit/service"
	"github.com/TIANLI0/ToonKit/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cartoonize HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	utils.Logger.Info("starting ToonKit server",
		zap.String("version", buildInfo.Version),
		zap.String("build_time", buildInfo.BuildTime),
		zap.String("git_commit", buildInfo.GitCommit),
		zap.String("git_branch", buildInfo.GitBranch))

	cartoonService, err := service.NewCartoonService(&cfg.Cartoon)
	if err != nil {
		return err
	}

	// 初始化Redis，连接失败时禁用缓存
	var cache service.ResultCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		defer redisService.Close()

		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
	}

	cartoonHandler := handler.NewCartoonHandler(cfg, cartoonService, cache)
	r := handler.NewRouter(cfg, cartoonHandler, buildInfo)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("default_variant", string(cartoonService.DefaultVariant())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			utils.Logger.Error("failed to start server", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	utils.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	utils.Logger.Info("server stopped")
	return nil
}
