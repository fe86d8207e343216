package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Security 定义邮件协议连接的加密协商策略。
type Security string

const (
	SecurityNone     Security = "none"     // 明文连接，仅建议用于隔离测试网络
	SecurityStartTLS Security = "starttls" // 明文连接后通过 STARTTLS 升级，再进行认证
	SecuritySSL      Security = "ssl"      // 从第一个字节开始即为 TLS 连接
)

// SMTPConfig 定义单个账号的外发（SMTP）服务器配置。
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"` // 0 表示按 security 推导默认端口
	Security Security      `mapstructure:"security"`
	Username string        `mapstructure:"username"`
	Password Secret        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	Timeout  time.Duration `mapstructure:"timeout"` // 覆盖连接+认证+发送的整体超时
}

// Addr 返回 host:port 形式的连接地址。
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IMAPConfig 定义单个账号的收件（IMAP）服务器配置。
type IMAPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Security Security      `mapstructure:"security"`
	Username string        `mapstructure:"username"`
	Password Secret        `mapstructure:"password"`
	Mailbox  string        `mapstructure:"mailbox"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr 返回 host:port 形式的连接地址。
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PollConfig 定义 IMAP 轮询的总超时与重试间隔。
type PollConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`  // 整体截止时间，默认 120s
	Interval time.Duration `mapstructure:"interval"` // 两次搜索之间的固定间隔，默认 5s
}

// Account 是一个被监控的邮件账号，经过 defaults 合并后必须完整。
type Account struct {
	Name            string     `mapstructure:"name"`
	SMTP            SMTPConfig `mapstructure:"smtp"`
	IMAP            IMAPConfig `mapstructure:"imap"`
	Poll            PollConfig `mapstructure:"poll"`
	DeleteOnSuccess bool       `mapstructure:"delete_on_success"`
	PushURL         string     `mapstructure:"push_url"` // 可选的推送监控地址
}

// LogConfig 定义日志系统配置。
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"` // 为空时只输出到 stdout
}

// DaemonConfig 定义常驻模式配置：按固定周期执行探测并暴露观测端点。
type DaemonConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"` // 两轮探测之间的间隔，默认 5m
	Listen   string        `mapstructure:"listen"`   // /metrics 与 /health 监听地址
}

// ProbeConfig 定义探测执行层配置。
type ProbeConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"` // 同时探测的账号数，默认 1（串行）
}

// Config 是系统核心配置的根结构体。
type Config struct {
	Log      LogConfig
	Daemon   DaemonConfig
	Probe    ProbeConfig
	Accounts []Account

	// Redacted 是脱敏后的原始配置快照，仅用于启动时的调试输出。
	Redacted map[string]interface{}
}

// ConfigError 表示某个账号的配置缺失或非法。
//
// 配置错误对该账号是致命的（编排器直接产出 down 结果并跳过探测），
// 但不影响其他账号继续执行。
type ConfigError struct {
	Account string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config: account %q: %s: %s", e.Account, e.Field, e.Reason)
}

// IsConfigError 报告 err（或其错误链中的任意错误）是否为 ConfigError。
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Load 从 YAML 配置文件加载完整配置。
//
// 加载优先级（从高到低）：
//  1. 系统环境变量（前缀 MAILPROBE_，仅覆盖 log/daemon/probe 段）
//  2. .env 文件（如果存在）
//  3. 配置文件
//  4. 内置默认值
//
// accounts 列表中的每一项会先与 defaults 段深度合并，再做字段校验。
// selected 非空时只保留名字匹配的账号，无匹配视为配置错误。
func Load(path string, selected []string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("mailprobe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("daemon.enabled", false)
	v.SetDefault("daemon.interval", "5m")
	v.SetDefault("daemon.listen", ":9090")
	v.SetDefault("probe.max_concurrency", 1)

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Field: path, Reason: fmt.Sprintf("cannot read config file: %v", err)}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Daemon: DaemonConfig{
			Enabled:  v.GetBool("daemon.enabled"),
			Interval: v.GetDuration("daemon.interval"),
			Listen:   v.GetString("daemon.listen"),
		},
		Probe: ProbeConfig{
			MaxConcurrency: v.GetInt("probe.max_concurrency"),
		},
	}
	if cfg.Daemon.Interval <= 0 {
		cfg.Daemon.Interval = 5 * time.Minute
	}
	if cfg.Probe.MaxConcurrency <= 0 {
		cfg.Probe.MaxConcurrency = 1
	}

	defaults := deepMerge(builtinDefaults(), toStringMap(v.Get("defaults")))

	rawAccounts, ok := v.Get("accounts").([]interface{})
	if !ok || len(rawAccounts) == 0 {
		return nil, &ConfigError{Field: "accounts", Reason: "no accounts configured"}
	}

	seen := make(map[string]bool)
	for _, raw := range rawAccounts {
		merged := deepMerge(defaults, toStringMap(raw))

		acct, err := decodeAccount(merged)
		if err != nil {
			return nil, err
		}
		if len(selected) > 0 && !containsName(selected, acct.Name) {
			continue
		}
		if seen[acct.Name] {
			return nil, &ConfigError{Account: acct.Name, Field: "name", Reason: "duplicate account name"}
		}
		seen[acct.Name] = true

		applyPortDefaults(&acct)
		if err := validateAccount(&acct); err != nil {
			return nil, err
		}
		cfg.Accounts = append(cfg.Accounts, acct)
	}

	if len(selected) > 0 && len(cfg.Accounts) == 0 {
		return nil, &ConfigError{Field: "accounts", Reason: "no matching accounts after filtering by -account"}
	}

	cfg.Redacted = Redact(v.AllSettings()).(map[string]interface{})

	return cfg, nil
}

// builtinDefaults 返回账号级内置默认值，用户的 defaults 段合并在其之上。
func builtinDefaults() map[string]interface{} {
	return map[string]interface{}{
		"smtp": map[string]interface{}{
			"security": "ssl",
			"timeout":  "30s",
		},
		"imap": map[string]interface{}{
			"port":     993,
			"security": "ssl",
			"mailbox":  "INBOX",
			"timeout":  "30s",
		},
		"poll": map[string]interface{}{
			"timeout":  "120s",
			"interval": "5s",
		},
		"delete_on_success": true,
	}
}

// decodeAccount 将合并后的原始 map 解码为 Account。
func decodeAccount(merged map[string]interface{}) (Account, error) {
	var acct Account
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:           &acct,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return acct, fmt.Errorf("building account decoder: %w", err)
	}
	if err := dec.Decode(merged); err != nil {
		name, _ := merged["name"].(string)
		return acct, &ConfigError{Account: name, Field: "account", Reason: err.Error()}
	}
	return acct, nil
}

// applyPortDefaults 按加密模式推导未显式配置的 SMTP 端口。
// ssl 走 465（隐式 TLS 提交端口），starttls/none 走 587。
func applyPortDefaults(acct *Account) {
	if acct.SMTP.Port == 0 {
		if acct.SMTP.Security == SecuritySSL {
			acct.SMTP.Port = 465
		} else {
			acct.SMTP.Port = 587
		}
	}
	if acct.IMAP.Port == 0 {
		acct.IMAP.Port = 993
	}
}

// validateAccount 校验合并后的账号是否完整。
// 缺失必填字段是配置错误而不是运行期探测失败。
func validateAccount(acct *Account) error {
	if acct.Name == "" {
		return &ConfigError{Field: "name", Reason: "each account must have a name"}
	}

	required := []struct {
		field string
		ok    bool
	}{
		{"smtp.host", acct.SMTP.Host != ""},
		{"smtp.username", acct.SMTP.Username != ""},
		{"smtp.password", !acct.SMTP.Password.IsZero()},
		{"smtp.from", acct.SMTP.From != ""},
		{"smtp.to", len(acct.SMTP.To) > 0},
		{"imap.host", acct.IMAP.Host != ""},
		{"imap.username", acct.IMAP.Username != ""},
		{"imap.password", !acct.IMAP.Password.IsZero()},
		{"imap.mailbox", acct.IMAP.Mailbox != ""},
	}
	for _, r := range required {
		if !r.ok {
			return &ConfigError{Account: acct.Name, Field: r.field, Reason: "missing required value"}
		}
	}

	for _, sec := range []Security{acct.SMTP.Security, acct.IMAP.Security} {
		switch sec {
		case SecurityNone, SecurityStartTLS, SecuritySSL:
		default:
			return &ConfigError{Account: acct.Name, Field: "security", Reason: fmt.Sprintf("unknown security mode %q", sec)}
		}
	}

	if acct.Poll.Timeout <= 0 {
		return &ConfigError{Account: acct.Name, Field: "poll.timeout", Reason: "must be positive"}
	}
	if acct.Poll.Interval <= 0 {
		return &ConfigError{Account: acct.Name, Field: "poll.interval", Reason: "must be positive"}
	}
	return nil
}

// deepMerge 将 b 递归合并到 a 之上并返回新 map，两个输入都不会被修改。
func deepMerge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if sub, ok := v.(map[string]interface{}); ok {
			if base, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMerge(base, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// toStringMap 把 viper 返回的任意值规整为 map[string]interface{}。
func toStringMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// secretKeys 列出序列化/日志输出前必须脱敏的配置键。
var secretKeys = map[string]bool{
	"password": true,
	"pass":     true,
	"secret":   true,
	"token":    true,
	"push_key": true,
}

// Redact 返回 v 的深拷贝，其中所有凭据类键的值都替换为占位符。
// 用于在 debug 级别安全地输出完整配置。
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if secretKeys[strings.ToLower(k)] {
				out[k] = Redacted
			} else {
				out[k] = Redact(item)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Redact(item)
		}
		return out
	default:
		return v
	}
}

// loadEnvFile 尝试加载 .env 文件，不存在时静默跳过。
// 已存在的环境变量优先级更高，不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
