// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package configs

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// 存储与限流后端类型
const (
	BackendInMemory = "in-memory"
	BackendRedis    = "redis"
)

// Config 存储所有应用程序的配置

type Config struct {
	Server ServerConfig `mapstructure:"server"`

	BackendURL string `mapstructure:"backend_url"`

	Admin AdminConfig `mapstructure:"admin"`

	Cache CacheConfig `mapstructure:"cache"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig 存储日志相关的配置

type LogConfig struct {
	LogLevel string `mapstructure:"level"`

	OutputPaths []string `mapstructure:"output_paths"`

	// 以下字段仅作用于文件输出（由 lumberjack 负责轮转）
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// ServerConfig 存储服务器相关的配置

type ServerConfig struct {
	Port string `mapstructure:"port"`

	TLSCertPath string `mapstructure:"tls_cert_path"`

	TLSKeyPath string `mapstructure:"tls_key_path"`

	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AdminConfig 管理接口配置，Token 为空时管理接口全部拒绝访问
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// RedisConfig 存储 Redis 连接相关的配置

type RedisConfig struct {
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`

	DB int `mapstructure:"db"`

	KeyPrefix string `mapstructure:"key_prefix"`
}

// CacheRouteConfig 描述一条可缓存的 API 路由
type CacheRouteConfig struct {
	// Prefix 路径前缀，例如 /api/courses
	Prefix string `mapstructure:"prefix"`

	// Resource 缓存键的第一段，例如 courses
	Resource string `mapstructure:"resource"`

	// Vary 参与缓存键的查询参数，为空时使用 "all"
	Vary string `mapstructure:"vary"`

	TTLSeconds int `mapstructure:"ttl_seconds"`

	// Invalidates 写入该路由成功后额外清理的资源
	Invalidates []string `mapstructure:"invalidates"`
}

// CacheConfig 存储响应缓存相关的配置

type CacheConfig struct {
	Type string `mapstructure:"type"` // "in-memory" or "redis"

	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`

	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`

	Redis RedisConfig `mapstructure:"redis"`

	Routes []CacheRouteConfig `mapstructure:"routes"`
}

// ProfileConfig 一档限流配额
type ProfileConfig struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// RuleConfig 将路径前缀（以及可选的方法）映射到限流档位
type RuleConfig struct {
	Prefix  string `mapstructure:"prefix"`
	Method  string `mapstructure:"method"`
	Profile string `mapstructure:"profile"`
}

// RateLimitConfig 存储限流相关的配置

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Type string `mapstructure:"type"` // "in-memory" or "redis"

	Shards int `mapstructure:"shards"`

	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`

	Redis RedisConfig `mapstructure:"redis"`

	Profiles map[string]ProfileConfig `mapstructure:"profiles"`

	Rules []RuleConfig `mapstructure:"rules"`
}

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// DefaultCacheRoutes 目录站点默认缓存的公开接口
func DefaultCacheRoutes() []CacheRouteConfig {
	return []CacheRouteConfig{
		{Prefix: "/api/banners", Resource: "banners", Vary: "status", TTLSeconds: 180},
		{Prefix: "/api/courses", Resource: "courses", Vary: "category", TTLSeconds: 300, Invalidates: []string{"stats"}},
		{Prefix: "/api/categories", Resource: "categories", TTLSeconds: 600, Invalidates: []string{"courses"}},
		{Prefix: "/api/skills", Resource: "skills", TTLSeconds: 600},
		{Prefix: "/api/stats", Resource: "stats", TTLSeconds: 120},
	}
}

// DefaultProfiles 默认限流档位
func DefaultProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		"default": {Limit: 100, WindowSeconds: 60},
		"auth":    {Limit: 10, WindowSeconds: 900},
		"polling": {Limit: 300, WindowSeconds: 60},
		"public":  {Limit: 200, WindowSeconds: 60},
	}
}

// DefaultRules 默认的路由 -> 档位映射
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Prefix: "/api/auth", Profile: "auth"},
		{Prefix: "/api/chat/poll", Method: "GET", Profile: "polling"},
		{Prefix: "/api/tickets", Method: "GET", Profile: "polling"},
		{Prefix: "/api/", Profile: "default"},
	}
}

// LoadConfig 从文件和环境变量中读取配置。
// path 为空时在 ./configs 和当前目录下查找 config.yaml。

func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	// 设置默认值

	v.SetDefault("server.port", "8080")

	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("server.tls_cert_path", "")

	v.SetDefault("server.tls_key_path", "")

	v.SetDefault("backend_url", "http://localhost:3000")

	v.SetDefault("admin.token", "") // 为空时关闭管理接口

	v.SetDefault("log.level", "info")

	v.SetDefault("log.output_paths", []string{"stdout"}) // 默认输出到标准输出

	v.SetDefault("log.max_size_mb", 100)

	v.SetDefault("log.max_backups", 7)

	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("log.compress", false)

	// Cache 默认配置

	v.SetDefault("cache.type", BackendInMemory)

	v.SetDefault("cache.default_ttl_seconds", 300) // 5 minutes

	v.SetDefault("cache.cleanup_interval_seconds", 60)

	v.SetDefault("cache.redis.addr", "localhost:6379")

	v.SetDefault("cache.redis.password", "")

	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("cache.redis.key_prefix", "catalog:cache:")

	// RateLimit 默认配置

	v.SetDefault("rate_limit.enabled", true)

	v.SetDefault("rate_limit.type", BackendInMemory)

	v.SetDefault("rate_limit.shards", 16)

	v.SetDefault("rate_limit.sweep_interval_seconds", 60)

	v.SetDefault("rate_limit.redis.addr", "localhost:6379")

	v.SetDefault("rate_limit.redis.password", "")

	v.SetDefault("rate_limit.redis.db", 0)

	v.SetDefault("rate_limit.redis.key_prefix", "catalog:rl:")

	// 从配置文件加载

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 配置文件名 (不带扩展名)

		v.SetConfigType("yaml") // 配置文件类型

		v.AddConfigPath("./configs") // 配置文件路径

		v.AddConfigPath(".") // 可选的当前目录路径
	}

	// 读取配置文件

	err = v.ReadInConfig()

	if err != nil {

		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {

			// 配置文件未找到是可接受的，因为可以使用环境变量

			slog.Debug("配置文件未找到，将使用默认值和环境变量", "error", err)

		} else {

			// 配置文件被找到但解析错误

			return config, fmt.Errorf("读取配置文件失败: %w", err)

		}

	} else {

		slog.Debug("成功加载配置文件", "file", v.ConfigFileUsed())

	}

	// 启用环境变量绑定

	v.SetEnvPrefix("CATALOG")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	// 将配置解组到结构体

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("解析配置失败: %w", err)
	}

	config.applyDefaults()

	return config, config.Validate()

}

// applyDefaults 填充无法通过 SetDefault 表达的列表/映射默认值
func (c *Config) applyDefaults() {
	if len(c.Cache.Routes) == 0 {
		c.Cache.Routes = DefaultCacheRoutes()
	}
	if len(c.RateLimit.Profiles) == 0 {
		c.RateLimit.Profiles = DefaultProfiles()
	}
	if len(c.RateLimit.Rules) == 0 {
		c.RateLimit.Rules = DefaultRules()
	}
}

// Validate 检查配置中无法在运行时降级处理的错误
func (c *Config) Validate() error {
	switch c.Cache.Type {
	case BackendInMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: 不支持的 cache 类型: %s", ErrInvalidConfig, c.Cache.Type)
	}

	switch c.RateLimit.Type {
	case BackendInMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: 不支持的 rate_limit 类型: %s", ErrInvalidConfig, c.RateLimit.Type)
	}

	for _, name := range []string{"default", "public"} {
		if _, ok := c.RateLimit.Profiles[name]; !ok {
			return fmt.Errorf("%w: 缺少限流档位 %q", ErrInvalidConfig, name)
		}
	}

	for name, p := range c.RateLimit.Profiles {
		if p.Limit <= 0 || p.WindowSeconds <= 0 {
			return fmt.Errorf("%w: 限流档位 %q 的 limit 和 window_seconds 必须大于 0", ErrInvalidConfig, name)
		}
	}

	for _, rule := range c.RateLimit.Rules {
		if _, ok := c.RateLimit.Profiles[rule.Profile]; !ok {
			return fmt.Errorf("%w: 规则 %q 引用了不存在的档位 %q", ErrInvalidConfig, rule.Prefix, rule.Profile)
		}
	}

	for _, route := range c.Cache.Routes {
		if route.Prefix == "" || route.Resource == "" {
			return fmt.Errorf("%w: 缓存路由必须同时配置 prefix 和 resource", ErrInvalidConfig)
		}
	}

	return nil
}
