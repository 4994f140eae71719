package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TIANLI0/ToonKit/apperrors"
	"github.com/TIANLI0/ToonKit/config"
	"github.com/TIANLI0/ToonKit/model"
	"github.com/TIANLI0/ToonKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// CartoonService 负责单次请求的解码、卡通化与编码
type CartoonService struct {
	cartoonizer  *Cartoonizer
	semaphore    chan struct{}
	queueTimeout time.Duration
}

func NewCartoonService(cfg *config.CartoonConfig) (*CartoonService, error) {
	variant, err := ParseVariant(cfg.Variant, VariantVibrant)
	if err != nil {
		return nil, err
	}

	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}

	return &CartoonService{
		cartoonizer:  NewCartoonizer(variant),
		semaphore:    make(chan struct{}, concurrent),
		queueTimeout: cfg.QueueTimeout,
	}, nil
}

// DefaultVariant 返回未指定变体时使用的变体
func (s *CartoonService) DefaultVariant() Variant {
	return s.cartoonizer.DefaultVariant()
}

// Process 解码图片字节，执行卡通化并编码为 PNG
func (s *CartoonService) Process(ctx context.Context, data []byte, v Variant) (*model.CartoonResult, error) {
	if v == "" {
		v = s.cartoonizer.DefaultVariant()
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	startTime := time.Now()
	md5 := utils.BytesMD5(data)

	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("could not read image", errors.New("empty upload"))
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || img.Empty() {
		img.Close()
		if err == nil {
			err = errors.New("unsupported or corrupt image data")
		}
		return nil, apperrors.NewDecodeError("could not read image", err)
	}
	defer img.Close()

	utils.Logger.Info("processing image",
		zap.String("md5", md5),
		zap.String("variant", string(v)),
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()))

	out, err := s.cartoonizer.Cartoonize(img, v)
	defer out.Close()
	if err != nil {
		return nil, apperrors.NewProcessingError("cartoonization failed", err)
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, out)
	if err != nil {
		return nil, apperrors.NewEncodeError("could not encode result", err)
	}
	defer buf.Close()

	// GetBytes 指向的内存在 buf.Close 后释放，需要复制
	png := append([]byte(nil), buf.GetBytes()...)
	if len(png) == 0 {
		return nil, apperrors.NewEncodeError("could not encode result", errors.New("encoder returned no data"))
	}

	result := &model.CartoonResult{
		MD5:          md5,
		Variant:      string(v),
		Width:        img.Cols(),
		Height:       img.Rows(),
		OutputWidth:  out.Cols(),
		OutputHeight: out.Rows(),
		Duration:     time.Since(startTime),
		PNG:          png,
	}

	utils.Logger.Info("image processed successfully",
		zap.String("md5", md5),
		zap.String("variant", result.Variant),
		zap.Int("output_width", result.OutputWidth),
		zap.Int("output_height", result.OutputHeight),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// acquire 并发控制：等待空闲槽位，超时或取消时返回 busy
func (s *CartoonService) acquire(ctx context.Context) error {
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperrors.NewBusyError("processing queue is full, try again later",
			fmt.Errorf("waiting for slot: %w", ctx.Err()))
	}
}

func (s *CartoonService) release() {
	<-s.semaphore
}
