package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateCacheName(g.CacheName); err != nil {
		return fmt.Errorf("Global.CacheName: %w", err)
	}
	if !strings.HasPrefix(g.PathPrefix, "/") || !strings.HasSuffix(g.PathPrefix, "/") {
		return newFieldError("Global.PathPrefix", "必须以 / 开头并以 / 结尾")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ClientIdleTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ClientIdleTimeout", "必须大于 0")
	}
	if g.MaxClients <= 0 {
		return newFieldError("Global.MaxClients", "必须大于 0")
	}

	switch {
	case g.Upstream != "" && c.Origin.Enabled():
		return newFieldError("Global.Upstream", "与 Origin.Bucket 只能二选一")
	case g.Upstream != "":
		if err := validateUpstream(g.Upstream); err != nil {
			return fmt.Errorf("Global.Upstream: %w", err)
		}
	case c.Origin.Enabled():
		if err := c.Origin.validate(); err != nil {
			return err
		}
	default:
		return errors.New("必须配置 Upstream 或 Origin.Bucket 之一")
	}

	return nil
}

func (o OriginConfig) validate() error {
	if err := validateUpstream(o.Endpoint); err != nil {
		return fmt.Errorf("%s: %w", originField("Endpoint"), err)
	}
	if (o.AccessKeyID == "") != (o.SecretAccessKey == "") {
		return newFieldError(originField("AccessKeyID/SecretAccessKey"), "必须同时提供或同时留空")
	}
	if o.ThumbTTL.DurationValue() <= 0 {
		return newFieldError(originField("ThumbTTL"), "必须大于 0")
	}
	if o.ThumbSize <= 0 {
		return newFieldError(originField("ThumbSize"), "必须大于 0")
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		return newFieldError(originField("JPEGQuality"), "必须在 1-100")
	}
	if o.PresignExpires.DurationValue() <= 0 || o.PresignExpires.DurationValue() > 7*24*time.Hour {
		return newFieldError(originField("PresignExpires"), "必须在 (0, 7d] 之间")
	}
	if o.PublicURL != "" {
		if err := validateUpstream(o.PublicURL); err != nil {
			return fmt.Errorf("%s: %w", originField("PublicURL"), err)
		}
	}
	return nil
}

func validateCacheName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(trimmed, `/\ `) {
		return errors.New("不允许包含路径分隔符或空格")
	}
	if strings.HasPrefix(trimmed, ".") {
		return errors.New("不允许以 . 开头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
