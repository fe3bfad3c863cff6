package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// originEnvBindings 允许通过环境变量注入源站凭证，避免把密钥写进配置文件。
var originEnvBindings = map[string]string{
	"Origin.Endpoint":        "R2_ENDPOINT_URL",
	"Origin.Bucket":          "R2_BUCKET_NAME",
	"Origin.Region":          "R2_REGION",
	"Origin.AccessKeyID":     "ACCESS_KEY_ID",
	"Origin.SecretAccessKey": "SECRET_ACCESS_KEY",
	"Origin.ThumbTTL":        "THUMB_TTL_SECONDS",
	"Origin.PublicURL":       "R2_PUBLIC_URL",
	"Origin.PresignExpires":  "R2_PRESIGN_EXPIRES",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := bindOriginEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyOriginDefaults(&cfg.Origin)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheName", "thumbnail-cache-v1")
	v.SetDefault("PathPrefix", "/thumb/")
	v.SetDefault("WorkerVersion", "1")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ClientIdleTimeout", "30m")
	v.SetDefault("MaxClients", 10000)
	v.SetDefault("Origin.Region", "auto")
	v.SetDefault("Origin.ThumbTTL", 3600)
	v.SetDefault("Origin.ThumbSize", 320)
	v.SetDefault("Origin.JPEGQuality", 80)
	v.SetDefault("Origin.PresignExpires", 3600)
}

func bindOriginEnv(v *viper.Viper) error {
	for key, env := range originEnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.CacheName) == "" {
		g.CacheName = "thumbnail-cache-v1"
	}
	if g.PathPrefix == "" {
		g.PathPrefix = "/thumb/"
	}
	if strings.TrimSpace(g.WorkerVersion) == "" {
		g.WorkerVersion = "1"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.ClientIdleTimeout.DurationValue() == 0 {
		g.ClientIdleTimeout = Duration(30 * time.Minute)
	}
	if g.MaxClients == 0 {
		g.MaxClients = 10000
	}
	g.Upstream = strings.TrimRight(strings.TrimSpace(g.Upstream), "/")
}

func applyOriginDefaults(o *OriginConfig) {
	if strings.TrimSpace(o.Region) == "" {
		o.Region = "auto"
	}
	if o.ThumbTTL.DurationValue() == 0 {
		o.ThumbTTL = Duration(time.Hour)
	}
	if o.ThumbSize == 0 {
		o.ThumbSize = 320
	}
	if o.JPEGQuality == 0 {
		o.JPEGQuality = 80
	}
	if o.PresignExpires.DurationValue() == 0 {
		o.PresignExpires = Duration(time.Hour)
	}
	o.PublicURL = strings.TrimRight(strings.TrimSpace(o.PublicURL), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
