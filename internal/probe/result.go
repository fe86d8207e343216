package probe

import "time"

// Status 是一次探测的二元健康结论。
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// MaxMessageLen 是结果 message 及推送 msg 参数的最大长度（字符数）。
const MaxMessageLen = 200

// Result 是单个账号一轮探测的输出。
//
// SMTPLatency 只计 SMTP 阶段（连接+认证+发送），IMAP 轮询耗时按设计
// 不计入，推送监控的 ping 值因此反映投递延迟而不是轮询节奏。
// 结果不做持久化，唯一的去向是日志与推送端点。
type Result struct {
	Account     string
	Status      Status
	Message     string        // 人类可读摘要，≤ MaxMessageLen
	SMTPLatency time.Duration // 发送失败时为 0
	PollWait    time.Duration // 匹配成功前的等待时长，未匹配时为 0
	Matched     bool
	Deleted     bool // 仅在 Matched 且请求了清理时有意义
}

// Truncate 把 s 截断到 MaxMessageLen 个字符（按 rune 计，保证合法 UTF-8）。
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxMessageLen {
		return s
	}
	return string(runes[:MaxMessageLen])
}
