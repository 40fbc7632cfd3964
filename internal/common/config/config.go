package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Consul   ConsulConfig   `json:"consul"`
	Jaeger   JaegerConfig   `json:"jaeger"`
	Log      LogConfig      `json:"log"`
	Auth     AuthConfig     `json:"auth"`
	Intake   IntakeConfig   `json:"intake"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name     string `json:"name"`      // 服务名称
	Host     string `json:"host"`      // 监听地址
	GRPCPort int    `json:"grpc_port"` // gRPC端口（健康检查/预留业务端口）
	HTTPPort int    `json:"http_port"` // HTTP端口（登记入口 API）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `json:"driver"`   // 数据库驱动
	Host     string `json:"host"`     // 数据库地址
	Port     int    `json:"port"`     // 数据库端口
	User     string `json:"user"`     // 用户名
	Password string `json:"password"` // 密码
	Database string `json:"database"` // 数据库名
	MaxIdle  int    `json:"max_idle"` // 最大空闲连接
	MaxOpen  int    `json:"max_open"` // 最大打开连接
}

// ConsulConfig Consul配置
type ConsulConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JaegerConfig Jaeger配置
type JaegerConfig struct {
	Endpoint string  `json:"endpoint"`
	Sampler  float64 `json:"sampler"` // 采样率 0.0-1.0
}

// LogConfig 日志配置
type LogConfig struct {
	Driver string `json:"driver"` // zap, logrus
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, file
	Path   string `json:"path"`   // 日志文件路径
}

// AuthConfig 鉴权配置（HS256 JWT）
type AuthConfig struct {
	Enabled       bool                `json:"enabled"`
	JWTSecret     string              `json:"jwt_secret"`
	Issuer        string              `json:"issuer"`
	Audience      string              `json:"audience"`
	TokenTTLMin   int                 `json:"token_ttl_min"`  // 签发 token 有效期（分钟）
	PublicMethods []string            `json:"public_methods"` // 免鉴权的 gRPC 方法
	RBAC          map[string][]string `json:"rbac"`           // gRPC method -> 允许角色
}

// IntakeConfig 登记入口（HTTP）配置
type IntakeConfig struct {
	RatePerSecond       int64 `json:"rate_per_second"`       // 令牌桶每秒补充数
	RateBurst           int64 `json:"rate_burst"`            // 令牌桶容量
	BreakerMaxFailures  int   `json:"breaker_max_failures"`  // 熔断前允许的连续失败数
	BreakerResetSeconds int   `json:"breaker_reset_seconds"` // 熔断后尝试恢复的等待秒数
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// LoadConfig 加载配置（进程内只加载一次）
func LoadConfig(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		globalConfig = defaultConfig()
		// 配置文件不存在时直接使用默认配置（本地开发）
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			logrus.Warnf("Config file not found: %s, using default config", configPath)
			return
		}

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file: %w", readErr)
			return
		}
		if unmarshalErr := json.Unmarshal(data, globalConfig); unmarshalErr != nil {
			err = fmt.Errorf("failed to parse config file: %w", unmarshalErr)
			return
		}
	})

	if err != nil {
		return nil, err
	}
	return globalConfig, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	if globalConfig == nil {
		return defaultConfig()
	}
	return globalConfig
}

// defaultConfig 默认配置（开发环境）
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "intake-service",
			Host:     "0.0.0.0",
			GRPCPort: 50051,
			HTTPPort: 8080,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "root",
			Database: "smartgaragelink",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Consul: ConsulConfig{
			Host: "localhost",
			Port: 8500,
		},
		Jaeger: JaegerConfig{
			Endpoint: "localhost:6831",
			Sampler:  1.0,
		},
		Log: LogConfig{
			Driver: "zap",
			Level:  "debug",
			Format: "text",
			Output: "stdout",
			Path:   "logs/app.log",
		},
		Auth: AuthConfig{
			Enabled:     false,
			Issuer:      "smartgaragelink",
			Audience:    "smartgaragelink",
			TokenTTLMin: 12 * 60,
		},
		Intake: IntakeConfig{
			RatePerSecond:       200,
			RateBurst:           400,
			BreakerMaxFailures:  5,
			BreakerResetSeconds: 30,
		},
	}
}
