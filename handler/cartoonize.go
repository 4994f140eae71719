package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/TIANLI0/ToonKit/apperrors"
	"github.com/TIANLI0/ToonKit/config"
	"github.com/TIANLI0/ToonKit/middleware"
	"github.com/TIANLI0/ToonKit/model"
	"github.com/TIANLI0/ToonKit/service"
	"github.com/TIANLI0/ToonKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const pngContentType = "image/png"

// Processor 将上传的图片字节转换为卡通 PNG
type Processor interface {
	Process(ctx context.Context, data []byte, v service.Variant) (*model.CartoonResult, error)
	DefaultVariant() service.Variant
}

type CartoonHandler struct {
	cfg       *config.Config
	processor Processor
	cache     service.ResultCache
}

// NewCartoonHandler cache 可以为 nil，此时不使用缓存
func NewCartoonHandler(cfg *config.Config, processor Processor, cache service.ResultCache) *CartoonHandler {
	return &CartoonHandler{
		cfg:       cfg,
		processor: processor,
		cache:     cache,
	}
}

// Cartoonize 处理图片上传并返回卡通化 PNG
func (h *CartoonHandler) Cartoonize(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, apperrors.NewTooLargeError("request body too large", err))
			return
		}
		h.fail(c, apperrors.NewInputMissingError("no image file provided", err))
		return
	}

	if file.Filename == "" {
		h.fail(c, apperrors.NewInputMissingError("empty filename", nil))
		return
	}

	if file.Size > h.cfg.Upload.MaxSize {
		h.fail(c, apperrors.NewTooLargeError(
			fmt.Sprintf("file exceeds the %d MB limit", h.cfg.Upload.MaxSize/(1024*1024)), nil))
		return
	}

	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		h.fail(c, apperrors.NewUnsupportedError("unsupported file type "+contentType, nil))
		return
	}

	variant, err := service.ParseVariant(h.variantParam(c), h.processor.DefaultVariant())
	if err != nil {
		h.fail(c, apperrors.NewValidationError("invalid variant", err))
		return
	}

	data, err := readUpload(file)
	if err != nil {
		h.fail(c, apperrors.NewInternalError("could not read upload", err))
		return
	}

	md5 := utils.BytesMD5(data)
	ctx := c.Request.Context()
	cacheKey := service.CacheKey(variant, md5)

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.String("variant", string(variant)),
		zap.String("request_id", c.GetString(middleware.RequestIDKey)))

	if cached := h.lookup(ctx, cacheKey); cached != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", cacheKey))
		h.writePNG(c, cached, variant, md5, true)
		return
	}

	result, err := h.processor.Process(ctx, data, variant)
	if err != nil {
		h.fail(c, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, result.PNG); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	h.writePNG(c, result.PNG, variant, md5, false)
}

// GetByMD5 根据MD5获取已缓存的卡通图片
func (h *CartoonHandler) GetByMD5(c *gin.Context) {
	md5 := strings.ToLower(c.Param("md5"))
	if !isMD5Hex(md5) {
		h.fail(c, apperrors.NewValidationError("md5 must be 32 hex characters", nil))
		return
	}

	if h.cache == nil {
		h.fail(c, apperrors.NewBusyError("result cache is disabled", nil))
		return
	}

	variant, err := service.ParseVariant(c.Query("variant"), h.processor.DefaultVariant())
	if err != nil {
		h.fail(c, apperrors.NewValidationError("invalid variant", err))
		return
	}

	data, err := h.cache.Get(c.Request.Context(), service.CacheKey(variant, md5))
	if err != nil {
		h.fail(c, apperrors.NewInternalError("cache lookup failed", err))
		return
	}
	if data == nil {
		h.fail(c, apperrors.NewNotFoundError("no cartoon cached for this image", nil))
		return
	}

	h.writePNG(c, data, variant, md5, true)
}

func (h *CartoonHandler) lookup(ctx context.Context, key string) []byte {
	if h.cache == nil {
		return nil
	}
	data, err := h.cache.Get(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	return data
}

func (h *CartoonHandler) writePNG(c *gin.Context, data []byte, v service.Variant, md5 string, hit bool) {
	cacheStatus := "MISS"
	if hit {
		cacheStatus = "HIT"
	}
	c.Header("X-Cache", cacheStatus)
	c.Header("X-Variant", string(v))
	c.Header("X-Image-MD5", md5)
	c.Data(http.StatusOK, pngContentType, data)
}

func (h *CartoonHandler) fail(c *gin.Context, err error) {
	status := apperrors.GetStatusCode(err)
	resp := model.ErrorResponse{
		Success: false,
		Message: http.StatusText(status),
		Error:   err.Error(),
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Type = string(appErr.Type)
	}

	if status >= http.StatusInternalServerError {
		utils.Logger.Error("request failed", zap.Error(err))
	} else {
		utils.Logger.Debug("request rejected", zap.Error(err))
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}

// variantParam 先读表单字段，再读查询参数
func (h *CartoonHandler) variantParam(c *gin.Context) string {
	if v := c.PostForm("variant"); v != "" {
		return v
	}
	return c.Query("variant")
}

func (h *CartoonHandler) isAllowedType(contentType string) bool {
	if len(h.cfg.Upload.AllowedTypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	buf.Grow(int(file.Size))
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isMD5Hex 判断是否为 32 位小写十六进制 MD5
func isMD5Hex(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
