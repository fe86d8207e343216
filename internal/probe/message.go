package probe

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// subjectPrefix 出现在每封探测邮件的主题中，便于人工辨认与过滤。
const subjectPrefix = "Mailprobe E2E Monitor"

// messageIDDomain 是探测邮件 Message-ID 的固定右半部分。
const messageIDDomain = "mailprobe"

// Message 是一封待发送的探测邮件。
//
// 关联 token 是 128 位随机值的十六进制表示，逐字出现在主题和正文中，
// 轮询侧靠它与 Message-ID 做精确匹配，与正常邮件碰撞的概率可忽略。
// 每个账号每轮都生成新的 Message，token 从不复用。
type Message struct {
	Token     string
	MessageID string
	From      string
	To        []string
	Subject   string
	Body      string
	SentAt    time.Time
}

// NewMessage 构造一封带新 token 的探测邮件。纯构造，无副作用。
func NewMessage(from string, to []string) *Message {
	u := uuid.New()
	token := hex.EncodeToString(u[:])
	now := time.Now()

	return &Message{
		Token:     token,
		MessageID: fmt.Sprintf("<%s@%s>", token, messageIDDomain),
		From:      from,
		To:        to,
		Subject:   fmt.Sprintf("%s token=%s", subjectPrefix, token),
		Body: fmt.Sprintf(
			"This is an automated end-to-end monitoring email.\r\nToken: %s\r\nTime: %s\r\n",
			token, now.Format(time.RFC1123Z),
		),
		SentAt: now,
	}
}

// Raw 渲染 RFC 5322 格式的完整邮件字节流。
func (m *Message) Raw() []byte {
	headers := []string{
		"From: " + m.From,
		"To: " + strings.Join(m.To, ", "),
		"Subject: " + m.Subject,
		"Date: " + m.SentAt.Format(time.RFC1123Z),
		"Message-ID: " + m.MessageID,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: 8bit",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + m.Body)
}
