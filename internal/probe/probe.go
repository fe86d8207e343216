// Package probe 实现端到端邮件投递探测的核心引擎：
// 构造带唯一关联 token 的探测邮件，经 SMTP 发出，再轮询 IMAP 邮箱
// 直到邮件到达或超时，最终给出单账号的二元健康结论与发送耗时。
package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/config"
)

// sender 与 poller 是流水线的两个阶段接口，测试用替身实现。
type sender interface {
	Send(ctx context.Context, cfg config.SMTPConfig, msg *Message) (time.Duration, error)
}

type poller interface {
	WaitForMessage(
		ctx context.Context,
		cfg config.IMAPConfig,
		poll config.PollConfig,
		msg *Message,
		deleteOnSuccess bool,
	) (*PollResult, error)
}

// Prober 对单个账号执行完整的 发送 → 轮询 → (清理) 流水线。
// 账号之间没有共享可变状态，同一个 Prober 可以被并发使用。
type Prober struct {
	log    *zap.Logger
	sender sender
	poller poller
}

// New 创建使用真实 SMTP/IMAP 实现的 Prober。
func New(log *zap.Logger) *Prober {
	return &Prober{
		log:    log,
		sender: NewSender(log),
		poller: NewPoller(log),
	}
}

// Run 对一个账号执行一轮探测，总是返回恰好一个 Result。
//
// 任何阶段的失败都被转换为 status=down 的结果而不是向上抛出；
// 发送失败时轮询不会执行。清理失败只在 message 里留警告，
// 不改变 up 结论。
func (p *Prober) Run(ctx context.Context, acct config.Account) Result {
	log := p.log.With(zap.String("account", acct.Name))

	msg := NewMessage(acct.SMTP.From, acct.SMTP.To)
	log.Debug("probe message composed",
		zap.String("token", msg.Token),
		zap.String("message_id", msg.MessageID),
	)

	latency, err := p.sender.Send(ctx, acct.SMTP, msg)
	if err != nil {
		log.Error("smtp send failed", zap.Error(err))
		return Result{
			Account: acct.Name,
			Status:  StatusDown,
			Message: Truncate("SMTP failed: " + err.Error()),
		}
	}
	log.Info("smtp sent ok",
		zap.Duration("latency", latency),
		zap.String("token", msg.Token),
	)

	pollRes, err := p.poller.WaitForMessage(ctx, acct.IMAP, acct.Poll, msg, acct.DeleteOnSuccess)
	if err != nil {
		log.Error("imap verification failed", zap.Error(err))
		return Result{
			Account:     acct.Name,
			Status:      StatusDown,
			Message:     Truncate("IMAP failed: " + err.Error()),
			SMTPLatency: latency,
		}
	}

	res := Result{
		Account:     acct.Name,
		Status:      StatusUp,
		Message:     "OK",
		SMTPLatency: latency,
		PollWait:    pollRes.Waited,
		Matched:     true,
		Deleted:     pollRes.Deleted,
	}
	if pollRes.CleanupErr != nil {
		log.Warn("probe message cleanup failed", zap.Error(pollRes.CleanupErr))
		res.Message = Truncate("OK (warning: " + pollRes.CleanupErr.Error() + ")")
	}

	log.Info("end-to-end probe succeeded",
		zap.String("token", msg.Token),
		zap.Duration("smtp_latency", latency),
		zap.Duration("poll_wait", pollRes.Waited),
		zap.Bool("deleted", res.Deleted),
	)
	return res
}
