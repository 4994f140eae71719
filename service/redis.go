package service

import (
	"context"
	"errors"
	"time"

	"github.com/TIANLI0/ToonKit/config"
	"github.com/redis/go-redis/v9"
)

// ResultCache 缓存卡通化后的 PNG 数据
type ResultCache interface {
	// 未命中时返回 nil, nil
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, png []byte) error
}

// CacheKey 生成缓存键，按变体区分
func CacheKey(v Variant, md5 string) string {
	return "cartoon:" + string(v) + ":" + md5
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get 从缓存获取结果
func (s *RedisService) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	return data, nil
}

// Set 写入缓存
func (s *RedisService) Set(ctx context.Context, key string, png []byte) error {
	return s.client.Set(ctx, key, png, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
