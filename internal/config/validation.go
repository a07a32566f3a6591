package config

import (
	"errors"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.RootDirectoryName == "" {
		return newFieldError("RootDirectoryName", "不能为空")
	}
	if g.CachePruneTriggerLimitBytes <= 0 {
		return newFieldError("CachePruneTriggerLimitBytes", "必须大于 0")
	}
	if g.MaxAssetBytes <= 0 {
		return newFieldError("MaxAssetBytes", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	for _, host := range g.AllowedHosts {
		if err := validateHost(host); err != nil {
			return newFieldError("AllowedHosts", err.Error())
		}
	}

	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("主机名不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("主机名不允许包含路径: " + host)
	}
	if strings.Contains(host, " ") {
		return errors.New("主机名不允许包含空格: " + host)
	}
	if strings.HasPrefix(host, "http") {
		return errors.New("主机名不应包含协议头: " + host)
	}
	return nil
}
