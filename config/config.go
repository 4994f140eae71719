package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TOONKIT"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Cartoon CartoonConfig `mapstructure:"cartoon"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size"`
	// 为空时接受任意类型，由解码结果决定
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type CartoonConfig struct {
	Variant       string        `mapstructure:"variant"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New 使用给定路径加载配置，仅在文件不存在时回退到默认配置，
// 解析或校验失败时返回错误
func New(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := Load(configPath)
	if err != nil {
		if isNotFound(err) {
			return getDefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}

// Validate 校验服务无法启动的配置值
func (c *Config) Validate() error {
	if c.Cartoon.MaxConcurrent <= 0 {
		return errors.New("cartoon.max_concurrent must be positive")
	}
	if c.Upload.MaxSize <= 0 {
		return errors.New("upload.max_size must be positive")
	}
	switch strings.ToLower(c.Cartoon.Variant) {
	case "", "vibrant", "simple":
	default:
		return fmt.Errorf("unknown cartoon.variant %q", c.Cartoon.Variant)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("cartoon.variant", d.Cartoon.Variant)
	v.SetDefault("cartoon.max_concurrent", d.Cartoon.MaxConcurrent)
	v.SetDefault("cartoon.queue_timeout", d.Cartoon.QueueTimeout)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":6000",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{},
		},
		Cartoon: CartoonConfig{
			Variant:       "vibrant",
			MaxConcurrent: 3,
			QueueTimeout:  30 * time.Second,
		},
	}
}
