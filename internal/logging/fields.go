package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AssetFields 提供资源请求日志的统一字段，供 HTTP 层复用。
func AssetFields(requestID, url, class, consumerID string, cacheSize int64) logrus.Fields {
	return logrus.Fields{
		"request_id":  requestID,
		"url":         url,
		"class":       class,
		"consumer_id": consumerID,
		"cache_bytes": cacheSize,
	}
}
