package probe

import (
	"errors"
	"fmt"
	"time"
)

// 探测阶段的错误分类。每种错误都只携带主机/操作等非敏感上下文，
// 底层传输错误原文保留在 Err 中供结果 message 使用，凭据永远不会出现。

// TransportError 表示连接建立、TLS 协商或协议层投递失败。
type TransportError struct {
	Op  string // 失败的操作，如 "smtp dial mail.example.com:465"
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError 报告 err 的错误链中是否包含 TransportError。
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AuthError 表示服务器拒绝了凭据。
type AuthError struct {
	Host string
	User string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Host == "" && e.User == "" {
		return fmt.Sprintf("authentication rejected: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed for %s on %s: %v", e.User, e.Host, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError 报告 err 的错误链中是否包含 AuthError。
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// TimeoutError 表示发送超过自身超时，或轮询截止前未匹配到消息。
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: timeout after %s: %v", e.Op, e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("%s: timeout after %s", e.Op, e.Elapsed.Round(time.Millisecond))
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeoutError 报告 err 的错误链中是否包含 TimeoutError。
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// NotFoundError 表示目标邮箱不存在或无法选中。
type NotFoundError struct {
	Mailbox string
	Err     error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("mailbox %q not found: %v", e.Mailbox, e.Err)
}
func (e *NotFoundError) Unwrap() error { return e.Err }

// IsNotFoundError 报告 err 的错误链中是否包含 NotFoundError。
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// CleanupError 表示匹配后的删除/EXPUNGE 失败。
// 它是非致命的：只会降级为结果 message 中的警告，不会把 up 翻成 down。
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string { return fmt.Sprintf("cleanup failed: %v", e.Err) }
func (e *CleanupError) Unwrap() error { return e.Err }
