package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失 Upstream/Origin 的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
Upstream = "https://thumbs.example.com"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadOriginFromEnv(t *testing.T) {
	t.Setenv("R2_ENDPOINT_URL", "https://account.r2.cloudflarestorage.com")
	t.Setenv("R2_BUCKET_NAME", "photos")
	t.Setenv("ACCESS_KEY_ID", "env-key")
	t.Setenv("SECRET_ACCESS_KEY", "env-secret")
	t.Setenv("THUMB_TTL_SECONDS", "120")

	path := writeTempConfig(t, `
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !cfg.Origin.Enabled() || cfg.Origin.Bucket != "photos" {
		t.Fatalf("环境变量应启用源站，得到 %+v", cfg.Origin)
	}
	if cfg.Origin.AccessKeyID != "env-key" || cfg.Origin.SecretAccessKey != "env-secret" {
		t.Fatalf("凭证应来自环境变量")
	}
	if cfg.Origin.ThumbTTL.DurationValue() != 2*time.Minute {
		t.Fatalf("THUMB_TTL_SECONDS 应按秒解析，得到 %s", cfg.Origin.ThumbTTL.DurationValue())
	}
	if cfg.Origin.Region != "auto" {
		t.Fatalf("Region 默认应为 auto，得到 %s", cfg.Origin.Region)
	}
	if cfg.Mode() != "origin" {
		t.Fatalf("应为 origin 模式")
	}
}
