package handler

import (
	"net/http"

	"github.com/TIANLI0/ToonKit/config"
	"github.com/TIANLI0/ToonKit/middleware"
	"github.com/gin-gonic/gin"
)

// BuildInfo 构建信息，由 main 通过 ldflags 注入
type BuildInfo struct {
	Version   string
	BuildTime string
	BuildID   string
	GitCommit string
	GitBranch string
}

// NewRouter 创建路由
func NewRouter(cfg *config.Config, h *CartoonHandler, info BuildInfo) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize + (1 << 20)
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    info.Version,
			"build_time": info.BuildTime,
			"build_id":   info.BuildID,
			"git_commit": info.GitCommit,
			"git_branch": info.GitBranch,
		})
	})

	limit := middleware.BodyLimit(cfg.Upload.MaxSize)

	// 兼容旧客户端的路由
	r.POST("/cartoonize", limit, h.Cartoonize)

	api := r.Group("/api/v1")
	{
		api.POST("/cartoonize", limit, h.Cartoonize)
		api.GET("/cartoon/:md5", h.GetByMD5)
	}

	return r
}
