package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailprobe/internal/config"
)

// defaultSMTPTimeout 在账号未配置超时时兜底。
const defaultSMTPTimeout = 30 * time.Second

// Sender 负责把一封探测邮件投递到外发服务器。
//
// 配置的超时覆盖连接+认证+发送的完整序列（通过拨号超时加连接级
// deadline 实现）；超时不在 Sender 内部重试——重试属于外层编排的事。
type Sender struct {
	log *zap.Logger
}

// NewSender 创建 SMTP 发送器。
func NewSender(log *zap.Logger) *Sender {
	return &Sender{log: log}
}

// Send 按配置的加密模式建立连接、认证并发送 msg，返回 SMTP 阶段耗时。
//
// 失败按种类区分：拨号/TLS 失败为 TransportError，AUTH 被拒为
// AuthError，整体超过超时为 TimeoutError；底层错误原文保留，凭据不会
// 出现在任何错误信息中。副作用：一封真实邮件被投递到目标邮箱。
func (s *Sender) Send(ctx context.Context, cfg config.SMTPConfig, msg *Message) (time.Duration, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)

	s.log.Debug("connecting to SMTP server",
		zap.String("address", cfg.Addr()),
		zap.String("security", string(cfg.Security)),
	)

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return 0, classifySMTPError("smtp dial "+cfg.Addr(), err)
	}
	// 后续所有命令共享同一个截止时间，整体超时由此保证
	_ = conn.SetDeadline(deadline)

	tlsConfig := &tls.Config{ServerName: cfg.Host}

	var client *smtp.Client
	switch cfg.Security {
	case config.SecuritySSL:
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	case config.SecurityStartTLS:
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return 0, classifySMTPError("smtp starttls "+cfg.Addr(), err)
		}
	default:
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	if cfg.Username != "" && !cfg.Password.IsZero() {
		auth := sasl.NewPlainClient("", cfg.Username, cfg.Password.Reveal())
		if err := client.Auth(auth); err != nil {
			if isTimeout(err) {
				return 0, &TimeoutError{Op: "smtp auth", Elapsed: time.Since(start), Err: err}
			}
			return 0, &AuthError{Host: cfg.Host, User: cfg.Username, Err: err}
		}
	}

	if err := client.SendMail(msg.From, msg.To, bytes.NewReader(msg.Raw())); err != nil {
		return 0, classifySMTPError("smtp send", err)
	}
	if err := client.Quit(); err != nil {
		// 邮件已被接受，QUIT 失败只记录
		s.log.Debug("smtp quit failed", zap.Error(err))
	}

	elapsed := time.Since(start)
	s.log.Debug("smtp send complete", zap.Duration("elapsed", elapsed))
	return elapsed, nil
}

// classifySMTPError 把底层错误映射到探测错误分类。
func classifySMTPError(op string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 530, 534, 535:
			return &AuthError{Err: smtpErr}
		}
	}
	return &TransportError{Op: op, Err: err}
}

// isTimeout 报告 err 是否为网络超时。
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
