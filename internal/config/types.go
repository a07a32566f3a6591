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

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 兼容纯字节整数与 "15MiB"、"512KB" 等带单位写法。
type ByteSize int64

// byteSizeUnits 同时接受十进制与二进制单位，键为小写后缀。
var byteSizeUnits = map[string]int64{
	"b":   1,
	"kb":  1000,
	"kib": 1024,
	"mb":  1000 * 1000,
	"mib": 1024 * 1024,
	"gb":  1000 * 1000 * 1000,
	"gib": 1024 * 1024 * 1024,
}

// UnmarshalText 解析带单位的容量字符串，空值视为 0 交由默认值填充。
func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*b = 0
		return nil
	}

	parsed, err := parseByteSize(raw)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// Int64 返回字节数，便于与文件大小直接比较。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func parseByteSize(raw string) (int64, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))

	if plain, err := strconv.ParseInt(lower, 10, 64); err == nil {
		return plain, nil
	}

	for suffix, factor := range byteSizeUnits {
		if !strings.HasSuffix(lower, suffix) {
			continue
		}
		number := strings.TrimSpace(strings.TrimSuffix(lower, suffix))
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			continue
		}
		return int64(value * float64(factor)), nil
	}

	return 0, fmt.Errorf("invalid byte size value: %s", raw)
}

// GlobalConfig 描述守护进程与缓存核心共享的全局参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// RootDirectoryName 为空时回退到 ./storage。
	RootDirectoryName string `mapstructure:"RootDirectoryName"`
	// CachePruneTriggerLimitBytes 超过该值即触发临时层清理。
	CachePruneTriggerLimitBytes ByteSize `mapstructure:"CachePruneTriggerLimitBytes"`
	// MaxAssetBytes 限制单个资源回源时允许读取的最大字节数。
	MaxAssetBytes   ByteSize `mapstructure:"MaxAssetBytes"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// AllowedHosts 为空表示不限制来源主机；仅在 HTTP 边界生效。
	AllowedHosts []string `mapstructure:"AllowedHosts"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// HostAllowed 报告 host 是否在允许名单内，名单为空时放行所有主机。
func (g GlobalConfig) HostAllowed(host string) bool {
	if len(g.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range g.AllowedHosts {
		if strings.EqualFold(allowed, host) {
			return true
		}
	}
	return false
}
