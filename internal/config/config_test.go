package config

import (
	"testing"
	"time"
)

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非法端口应校验失败")
	}
}

func TestValidateRejectsBadAllowedHosts(t *testing.T) {
	cases := []string{"", "cdn.example.com/path", "has space.com", "https://cdn.example.com"}
	for _, host := range cases {
		cfg := validConfig()
		cfg.Global.AllowedHosts = []string{host}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("非法主机名 %q 应校验失败", host)
		}
	}
}

func TestHostAllowed(t *testing.T) {
	g := GlobalConfig{AllowedHosts: []string{"cdn.example.com"}}
	if !g.HostAllowed("CDN.Example.Com") {
		t.Fatalf("主机名匹配应忽略大小写")
	}
	if g.HostAllowed("evil.example.com") {
		t.Fatalf("名单外主机不应放行")
	}

	open := GlobalConfig{}
	if !open.HostAllowed("anything.example.com") {
		t.Fatalf("名单为空时应放行所有主机")
	}
}

func TestByteSizeUnmarshalText(t *testing.T) {
	cases := map[string]int64{
		"1024":  1024,
		"1KiB":  1024,
		"1kb":   1000,
		"2MiB":  2 * 1024 * 1024,
		"1.5GB": 1500000000,
	}
	for raw, expected := range cases {
		var b ByteSize
		if err := b.UnmarshalText([]byte(raw)); err != nil {
			t.Fatalf("解析 %q 失败: %v", raw, err)
		}
		if b.Int64() != expected {
			t.Fatalf("解析 %q 期望 %d 得到 %d", raw, expected, b.Int64())
		}
	}

	var bad ByteSize
	if err := bad.UnmarshalText([]byte("many")); err == nil {
		t.Fatalf("无效容量值应失败")
	}
}

func validConfig() *Config {
	return &Config{Global: GlobalConfig{
		ListenPort:                  5100,
		LogLevel:                    "info",
		RootDirectoryName:           "./storage",
		CachePruneTriggerLimitBytes: ByteSize(15 * 1024 * 1024),
		MaxAssetBytes:               ByteSize(64 * 1024 * 1024),
		UpstreamTimeout:             Duration(30 * time.Second),
	}}
}
