package config

// Redacted 是所有凭据在日志、错误信息和序列化输出中的统一占位符。
const Redacted = "***REDACTED***"

// Secret 表示一段凭据（密码、推送 token 等）。
//
// 它不参与默认的字符串格式化：fmt 系列函数、zap 字段、JSON/YAML
// 序列化得到的都是占位符，原始值只能通过 Reveal() 显式取出。
// 凭据脱敏因此不依赖调用方自觉，而是由类型本身保证。
type Secret string

// Reveal 返回凭据的原始值，仅应在建立 SMTP/IMAP 连接时调用。
func (s Secret) Reveal() string { return string(s) }

// IsZero 报告凭据是否为空。
func (s Secret) IsZero() bool { return s == "" }

// String 实现 fmt.Stringer，永远返回占位符。
func (s Secret) String() string { return Redacted }

// GoString 实现 fmt.GoStringer，防止 %#v 泄露原始值。
func (s Secret) GoString() string { return "config.Secret(" + Redacted + ")" }

// MarshalText 实现 encoding.TextMarshaler，序列化时输出占位符。
func (s Secret) MarshalText() ([]byte, error) { return []byte(Redacted), nil }

// MarshalJSON 实现 json.Marshaler，序列化时输出占位符。
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + Redacted + `"`), nil }
