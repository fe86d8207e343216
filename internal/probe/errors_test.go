package probe

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Run("包装后的错误仍可被识别", func(t *testing.T) {
		base := &AuthError{Host: "mail.example.com", User: "probe", Err: errors.New("535 bad credentials")}
		wrapped := fmt.Errorf("probe failed: %w", base)

		assert.True(t, IsAuthError(wrapped))
		assert.False(t, IsTransportError(wrapped))
		assert.False(t, IsTimeoutError(wrapped))
	})

	t.Run("各类错误互不混淆", func(t *testing.T) {
		assert.True(t, IsTransportError(&TransportError{Op: "dial", Err: errors.New("refused")}))
		assert.True(t, IsTimeoutError(&TimeoutError{Op: "poll", Elapsed: time.Minute}))
		assert.True(t, IsNotFoundError(&NotFoundError{Mailbox: "INBOX", Err: errors.New("no such mailbox")}))
		assert.False(t, IsAuthError(&TransportError{Op: "dial", Err: errors.New("refused")}))
	})

	t.Run("错误信息包含上下文但不含凭据", func(t *testing.T) {
		err := &AuthError{Host: "mail.example.com", User: "probe@example.com", Err: errors.New("535 5.7.8 rejected")}
		assert.Contains(t, err.Error(), "mail.example.com")
		assert.Contains(t, err.Error(), "probe@example.com")

		te := &TimeoutError{Op: "imap poll in INBOX", Elapsed: 120*time.Second + 300*time.Millisecond}
		assert.Contains(t, te.Error(), "timeout after 2m0.3s")
	})
}

func TestClassifySMTPError(t *testing.T) {
	t.Run("认证类状态码映射为 AuthError", func(t *testing.T) {
		for _, code := range []int{530, 534, 535} {
			err := classifySMTPError("smtp send", &smtp.SMTPError{Code: code, Message: "denied"})
			assert.True(t, IsAuthError(err), "code %d", code)
		}
	})

	t.Run("其他 SMTP 错误映射为 TransportError", func(t *testing.T) {
		err := classifySMTPError("smtp send", &smtp.SMTPError{Code: 550, Message: "mailbox unavailable"})
		assert.True(t, IsTransportError(err))
		assert.Contains(t, err.Error(), "smtp send")
	})

	t.Run("普通错误映射为 TransportError", func(t *testing.T) {
		err := classifySMTPError("smtp dial", errors.New("connection refused"))
		assert.True(t, IsTransportError(err))
	})
}
