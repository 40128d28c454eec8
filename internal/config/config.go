package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Preview   PreviewConfig   `yaml:"preview"`
	Session   SessionConfig   `yaml:"session"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Samples   []SampleConfig  `yaml:"samples"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Mode           string        `yaml:"mode"` // debug, release
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Port int `yaml:"port"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	GlobalRPS int `yaml:"global_rps"`
	IPRPS     int `yaml:"ip_rps"`
	Burst     int `yaml:"burst"`
	IdleTTL   int `yaml:"idle_ttl"` // IP限流器空闲回收时间(秒)
}

// AnalysisConfig 模拟分析配置
type AnalysisConfig struct {
	MinDelayMS    int `yaml:"min_delay_ms"`   // 模拟耗时下限(毫秒)
	MaxDelayMS    int `yaml:"max_delay_ms"`   // 模拟耗时上限(毫秒)
	MaxConcurrent int `yaml:"max_concurrent"` // 最大并发分析数
}

// PreviewConfig 预览配置
type PreviewConfig struct {
	ProbeMedia        bool `yaml:"probe_media"`         // 是否检查直接媒体地址, 默认关闭
	ProbeTimeout      int  `yaml:"probe_timeout"`       // 检查超时(秒)
	AllowPrivateHosts bool `yaml:"allow_private_hosts"` // 允许检查本机与内网地址
}

// SessionConfig 会话配置
type SessionConfig struct {
	TTL           int `yaml:"ttl"`            // 空闲过期时间(秒)
	SweepInterval int `yaml:"sweep_interval"` // 清理间隔(秒)
}

// WalletConfig 钱包配置
type WalletConfig struct {
	Enabled  bool     `yaml:"enabled"`
	ChainID  string   `yaml:"chain_id"`
	Accounts []string `yaml:"accounts"`
}

// SampleConfig 预置示例
type SampleConfig struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse 解析配置内容, 应用环境变量覆盖与默认值
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 从环境变量覆盖配置
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if rabbitmqURL := os.Getenv("RABBITMQ_URL"); rabbitmqURL != "" {
		cfg.RabbitMQ.URL = rabbitmqURL
	}
	if port, err := envInt("HTTP_PORT"); err != nil {
		return nil, err
	} else if port != 0 {
		cfg.Server.Port = port
	}
	if port, err := envInt("GRPC_PORT"); err != nil {
		return nil, err
	} else if port != 0 {
		cfg.GRPC.Port = port
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envInt 读取整型环境变量, 未设置返回0
func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 9090
	}
	if cfg.RateLimit.GlobalRPS == 0 {
		cfg.RateLimit.GlobalRPS = 200
	}
	if cfg.RateLimit.IPRPS == 0 {
		cfg.RateLimit.IPRPS = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.IdleTTL == 0 {
		cfg.RateLimit.IdleTTL = 600
	}
	if cfg.Analysis.MinDelayMS == 0 && cfg.Analysis.MaxDelayMS == 0 {
		cfg.Analysis.MinDelayMS = 900
		cfg.Analysis.MaxDelayMS = 1900
	}
	if cfg.Analysis.MaxConcurrent == 0 {
		cfg.Analysis.MaxConcurrent = 64
	}
	if cfg.Preview.ProbeTimeout == 0 {
		cfg.Preview.ProbeTimeout = 5
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 1800
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 60
	}
	if cfg.Wallet.ChainID == "" {
		cfg.Wallet.ChainID = "0x1"
	}
	if cfg.RabbitMQ.Exchange == "" {
		cfg.RabbitMQ.Exchange = "vscan"
	}
	if cfg.RabbitMQ.Queue == "" {
		cfg.RabbitMQ.Queue = "vscan.analysis"
	}
	if cfg.RabbitMQ.RoutingKey == "" {
		cfg.RabbitMQ.RoutingKey = "analysis.completed"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Analysis.MinDelayMS < 0 || c.Analysis.MaxDelayMS < c.Analysis.MinDelayMS {
		return fmt.Errorf("invalid analysis delay range [%d, %d]", c.Analysis.MinDelayMS, c.Analysis.MaxDelayMS)
	}
	for i, s := range c.Samples {
		if s.URL == "" {
			return fmt.Errorf("sample %d has empty url", i)
		}
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq enabled but url is empty")
	}
	return nil
}

// MinDelay 模拟耗时下限
func (c *AnalysisConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMS) * time.Millisecond
}

// MaxDelay 模拟耗时上限
func (c *AnalysisConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// GetIdleTTL IP限流器空闲回收时间
func (c *RateLimitConfig) GetIdleTTL() time.Duration {
	return time.Duration(c.IdleTTL) * time.Second
}

// GetProbeTimeout 获取媒体检查超时
func (c *PreviewConfig) GetProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}

// GetTTL 获取会话过期时间
func (c *SessionConfig) GetTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetSweepInterval 获取清理间隔
func (c *SessionConfig) GetSweepInterval() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}
