package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听、日志、缓存目录与拦截器常量。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CacheName       string   `mapstructure:"CacheName"`
	PathPrefix      string   `mapstructure:"PathPrefix"`
	WorkerVersion   string   `mapstructure:"WorkerVersion"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	// ClientIdleTimeout 之后未再发请求的客户端视为已关闭；MaxClients 限制同时登记的客户端数。
	ClientIdleTimeout Duration `mapstructure:"ClientIdleTimeout"`
	MaxClients        int      `mapstructure:"MaxClients"`
}

// OriginConfig 描述内置缩略图源站（S3 兼容存储，如 Cloudflare R2）。
type OriginConfig struct {
	Endpoint        string   `mapstructure:"Endpoint"`
	Bucket          string   `mapstructure:"Bucket"`
	Region          string   `mapstructure:"Region"`
	AccessKeyID     string   `mapstructure:"AccessKeyID"`
	SecretAccessKey string   `mapstructure:"SecretAccessKey"`
	ThumbTTL        Duration `mapstructure:"ThumbTTL"`
	ThumbSize       int      `mapstructure:"ThumbSize"`
	JPEGQuality     int      `mapstructure:"JPEGQuality"`
	// PublicURL 为空时目录列表不输出公共访问地址。
	PublicURL      string   `mapstructure:"PublicURL"`
	PresignExpires Duration `mapstructure:"PresignExpires"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Origin OriginConfig `mapstructure:"Origin"`
}

// Enabled 表示是否配置了内置源站。
func (o OriginConfig) Enabled() bool {
	return strings.TrimSpace(o.Bucket) != ""
}

// 网络模式：转发到 HTTP 上游，或使用内置 S3 源站。
const (
	ModeUpstream = "upstream"
	ModeOrigin   = "origin"
)

// Mode 输出 `upstream` 或 `origin`，用于选择网络原语和日志字段。
func (c *Config) Mode() string {
	if c.Global.Upstream != "" {
		return ModeUpstream
	}
	return ModeOrigin
}
