// Package health 提供常驻模式下的存活/就绪检查端点。
package health

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailprobe/internal/config"
)

// dialCheckTimeout 是就绪检查中 TCP 拨测的超时。
const dialCheckTimeout = 5 * time.Second

// Checker 健康检查器
//
// 存活（liveness）：探测循环是否还在按周期推进；
// 就绪（readiness）：各账号的 SMTP/IMAP 端点当前是否可拨通。
type Checker struct {
	health     healthcheck.Handler
	log        *zap.Logger
	staleAfter time.Duration

	mu        sync.Mutex
	lastCycle time.Time
}

// NewChecker 创建健康检查器并挂接各项检查。
func NewChecker(cfg *config.Config, log *zap.Logger) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		log:    log,
		// 超过两个周期没有完成一轮探测视为卡死
		staleAfter: 2 * cfg.Daemon.Interval,
	}

	c.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(200))
	c.health.AddLivenessCheck("probe-cycle", c.cycleFresh)

	for _, acct := range cfg.Accounts {
		c.health.AddReadinessCheck(
			"smtp-"+acct.Name,
			healthcheck.TCPDialCheck(acct.SMTP.Addr(), dialCheckTimeout),
		)
		c.health.AddReadinessCheck(
			"imap-"+acct.Name,
			healthcheck.TCPDialCheck(acct.IMAP.Addr(), dialCheckTimeout),
		)
	}

	return c
}

// MarkCycle 在每轮探测完成后由调度器调用。
func (c *Checker) MarkCycle() {
	c.mu.Lock()
	c.lastCycle = time.Now()
	c.mu.Unlock()
}

// cycleFresh 检查探测循环是否停滞。启动后第一轮完成之前不报错。
func (c *Checker) cycleFresh() error {
	c.mu.Lock()
	last := c.lastCycle
	c.mu.Unlock()

	if last.IsZero() {
		return nil
	}
	if elapsed := time.Since(last); elapsed > c.staleAfter {
		return fmt.Errorf("last probe cycle finished %s ago", elapsed.Round(time.Second))
	}
	return nil
}

// LiveEndpoint 返回 /health/live 的处理函数。
func (c *Checker) LiveEndpoint() http.HandlerFunc {
	return c.health.LiveEndpoint
}

// ReadyEndpoint 返回 /health/ready 的处理函数。
func (c *Checker) ReadyEndpoint() http.HandlerFunc {
	return c.health.ReadyEndpoint
}
