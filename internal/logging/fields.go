package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 worker 版本、缓存名与拦截结果字段，供请求日志复用。
func RequestFields(version, cacheName, clientID, source string, intercepted bool) logrus.Fields {
	fields := logrus.Fields{
		"worker_version": version,
		"cache_name":     cacheName,
		"intercepted":    intercepted,
		"cache_hit":      source == "cache",
	}
	if clientID != "" {
		fields["client_id"] = clientID
	}
	if source != "" {
		fields["source"] = source
	}
	return fields
}
