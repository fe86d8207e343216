// Package runner 按配置遍历账号执行探测流水线并聚合整体退出状态。
// 账号彼此独立：一个账号的失败（配置错误、网络故障）不会阻止其他
// 账号执行和上报。
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailprobe/internal/config"
	"mailprobe/internal/monitoring"
	"mailprobe/internal/pool"
	"mailprobe/internal/probe"
)

// Prober 执行单账号探测，总是返回恰好一个结果。
type Prober interface {
	Run(ctx context.Context, acct config.Account) probe.Result
}

// Notifier 把结果上报到账号的推送地址。错误只记录，不影响结论。
type Notifier interface {
	Notify(ctx context.Context, pushURL string, res probe.Result) error
}

// Runner 是账号编排器。
type Runner struct {
	cfg      *config.Config
	log      *zap.Logger
	prober   Prober
	notifier Notifier
	metrics  *monitoring.Metrics // 可为 nil（一次性模式不暴露指标）
}

// New 创建编排器。
func New(cfg *config.Config, log *zap.Logger, prober Prober, notifier Notifier, metrics *monitoring.Metrics) *Runner {
	return &Runner{
		cfg:      cfg,
		log:      log,
		prober:   prober,
		notifier: notifier,
		metrics:  metrics,
	}
}

// RunAll 对所有配置账号各执行一轮探测，返回与账号同序的结果。
//
// 并发度由 probe.max_concurrency 控制（默认 1，即串行）。收到进程
// 退出信号时，尚未开始的账号会得到一个说明性的 down 结果而不是被
// 悄悄丢弃。
func (r *Runner) RunAll(ctx context.Context) []probe.Result {
	accounts := r.cfg.Accounts

	workers := pool.New(r.cfg.Probe.MaxConcurrency, len(accounts))
	workers.Start(ctx)

	resCh := make(chan probe.Result, len(accounts))
	for _, acct := range accounts {
		acct := acct
		workers.Submit(func() { resCh <- r.runOne(ctx, acct) })
	}

	byName := make(map[string]probe.Result, len(accounts))
	collected := 0
collect:
	for collected < len(accounts) {
		select {
		case res := <-resCh:
			byName[res.Account] = res
			collected++
		case <-ctx.Done():
			break collect
		}
	}
	workers.Stop()

	// 取消后在途任务可能仍写入了结果，清空缓冲
drain:
	for {
		select {
		case res := <-resCh:
			byName[res.Account] = res
		default:
			break drain
		}
	}

	results := make([]probe.Result, 0, len(accounts))
	for _, acct := range accounts {
		res, ok := byName[acct.Name]
		if !ok {
			res = probe.Result{
				Account: acct.Name,
				Status:  probe.StatusDown,
				Message: "probe aborted: shutdown signal received",
			}
		}
		results = append(results, res)
	}
	return results
}

// runOne 执行单个账号的 探测 → 上报 流程。
//
// 上报在 defer 中执行（finally 语义）：无论哪个阶段失败，每个账号
// 的 Reporter 恰好被调用一次。流水线的 panic 也在这里兜底转换为
// down 结果，保证一个账号的异常不会终止整轮执行。
func (r *Runner) runOne(ctx context.Context, acct config.Account) (res probe.Result) {
	log := r.log.With(zap.String("account", acct.Name))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("probe panicked", zap.Any("panic", rec))
			res = probe.Result{
				Account: acct.Name,
				Status:  probe.StatusDown,
				Message: probe.Truncate(fmt.Sprintf("internal error: %v", rec)),
			}
		}

		if r.metrics != nil {
			r.metrics.ObserveResult(res)
		}

		// 每账号每轮恰好一行结构化结果
		log.Info("probe result",
			zap.String("status", string(res.Status)),
			zap.String("message", res.Message),
			zap.Int64("smtp_latency_ms", res.SMTPLatency.Milliseconds()),
			zap.Bool("matched", res.Matched),
			zap.Bool("deleted", res.Deleted),
		)

		if err := r.notifier.Notify(ctx, acct.PushURL, res); err != nil {
			// 推送失败不改变已得出的结论
			log.Error("push notification failed", zap.Error(err))
			if r.metrics != nil {
				r.metrics.PushFailures.WithLabelValues(acct.Name).Inc()
			}
		}
	}()

	log.Info("running probe")
	res = r.prober.Run(ctx, acct)
	return res
}

// AllUp 报告是否所有账号都探测成功，供进程退出码聚合使用。
func AllUp(results []probe.Result) bool {
	for _, res := range results {
		if res.Status != probe.StatusUp {
			return false
		}
	}
	return len(results) > 0
}
