package probe

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"mailprobe/internal/config"
)

// Session 抽象一次已登录、已选中目标邮箱的 IMAP 会话。
// 每个账号的轮询独占自己的会话，不同账号的搜索天然互不可见。
type Session interface {
	// SearchToken 按固定顺序搜索探测邮件：先精确匹配 Message-ID 头，
	// 再匹配主题中的 token，最后全文匹配。返回所有命中的 UID。
	SearchToken(msg *Message) ([]imap.UID, error)

	// MarkDeleted 给指定 UID 打上 \Deleted 标记。
	MarkDeleted(uid imap.UID) error

	// Expunge 提交删除。
	Expunge() error

	// Close 注销并断开会话。
	Close() error
}

// DialSession 建立一个真实的 IMAP 会话：连接、登录、选中邮箱。
// 错误分类：连接/TLS 失败为 TransportError，登录被拒为 AuthError，
// 选中失败为 NotFoundError。
func DialSession(cfg config.IMAPConfig) (Session, error) {
	options := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: cfg.Host},
	}

	var client *imapclient.Client
	var err error
	switch cfg.Security {
	case config.SecurityStartTLS:
		client, err = imapclient.DialStartTLS(cfg.Addr(), options)
	case config.SecurityNone:
		client, err = imapclient.DialInsecure(cfg.Addr(), options)
	default:
		client, err = imapclient.DialTLS(cfg.Addr(), options)
	}
	if err != nil {
		return nil, &TransportError{Op: "imap dial " + cfg.Addr(), Err: err}
	}

	if err := client.Login(cfg.Username, cfg.Password.Reveal()).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{Host: cfg.Host, User: cfg.Username, Err: err}
	}

	if _, err := client.Select(cfg.Mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &NotFoundError{Mailbox: cfg.Mailbox, Err: err}
	}

	return &imapSession{client: client}, nil
}

// imapSession 是基于 go-imap v2 的 Session 实现。
type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) SearchToken(msg *Message) ([]imap.UID, error) {
	criteria := []*imap.SearchCriteria{
		{Header: []imap.SearchCriteriaHeaderField{{Key: "Message-Id", Value: msg.MessageID}}},
		{Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: msg.Token}}},
		{Text: []string{msg.Token}},
	}
	for _, crit := range criteria {
		data, err := s.client.UIDSearch(crit, nil).Wait()
		if err != nil {
			return nil, err
		}
		if uids := data.AllUIDs(); len(uids) > 0 {
			return uids, nil
		}
	}
	return nil, nil
}

func (s *imapSession) MarkDeleted(uid imap.UID) error {
	store := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}
	return s.client.Store(imap.UIDSetNum(uid), store, nil).Close()
}

func (s *imapSession) Expunge() error {
	return s.client.Expunge().Close()
}

func (s *imapSession) Close() error {
	return s.client.Logout().Wait()
}

// PollResult 是一次轮询（含可选清理）的结果。
type PollResult struct {
	UID        imap.UID
	Waited     time.Duration // 从开始轮询到匹配的等待时长
	Deleted    bool
	CleanupErr error // 非致命，仅降级为警告（*CleanupError）
}

// Poller 在截止时间内以固定间隔反复搜索目标邮箱。
//
// 固定间隔优于指数退避：邮件投递要么几秒内到达，要么意味着故障，
// 有界的简单循环让最坏检测延迟可预期，恰好等于配置的超时。
type Poller struct {
	log  *zap.Logger
	dial func(config.IMAPConfig) (Session, error)
}

// NewPoller 创建 IMAP 轮询器。
func NewPoller(log *zap.Logger) *Poller {
	return &Poller{log: log, dial: DialSession}
}

// WaitForMessage 轮询目标邮箱直到匹配到 msg 或超过截止时间。
//
// 会话建立一次并在整个轮询期间保持；单次搜索的瞬时错误不会中止
// 循环（重连后在下个间隔继续），只有总超时耗尽才是最终失败。
// deleteOnSuccess 为真时在同一会话内打删除标记并 EXPUNGE，其失败
// 记入 PollResult.CleanupErr 而不影响匹配结论。
// 间隔等待对 ctx 取消保持响应。
func (p *Poller) WaitForMessage(
	ctx context.Context,
	cfg config.IMAPConfig,
	poll config.PollConfig,
	msg *Message,
	deleteOnSuccess bool,
) (*PollResult, error) {
	sess, err := p.dial(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	start := time.Now()
	deadline := start.Add(poll.Timeout)

	for {
		uids, err := sess.SearchToken(msg)
		if err != nil {
			// 瞬时搜索错误：尝试重连，失败则带着旧会话等下个间隔
			p.log.Debug("transient imap search error",
				zap.String("mailbox", cfg.Mailbox),
				zap.Error(err),
			)
			if fresh, derr := p.dial(cfg); derr == nil {
				_ = sess.Close()
				sess = fresh
			}
		} else if len(uids) > 0 {
			// 命中多条时取最新一条
			res := &PollResult{
				UID:    uids[len(uids)-1],
				Waited: time.Since(start),
			}
			if deleteOnSuccess {
				if cerr := cleanup(sess, res.UID); cerr != nil {
					res.CleanupErr = &CleanupError{Err: cerr}
				} else {
					res.Deleted = true
				}
			}
			return res, nil
		}

		if !time.Now().Before(deadline) {
			return nil, &TimeoutError{
				Op:      "imap poll in " + cfg.Mailbox,
				Elapsed: time.Since(start),
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll.Interval):
		}
	}
}

// cleanup 在当前会话内删除匹配到的探测邮件并提交。
func cleanup(sess Session, uid imap.UID) error {
	if err := sess.MarkDeleted(uid); err != nil {
		return err
	}
	return sess.Expunge()
}
