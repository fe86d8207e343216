package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailprobe/internal/config"
	"mailprobe/internal/health"
	"mailprobe/internal/logger"
	"mailprobe/internal/monitoring"
	"mailprobe/internal/probe"
	"mailprobe/internal/report"
	"mailprobe/internal/runner"
)

// 进程退出码约定：0 全部 up，1 至少一个 down，2 配置或环境错误。
const (
	exitOK     = 0
	exitDown   = 1
	exitConfig = 2
)

// multiFlag 支持重复出现的 -account 参数。
type multiFlag []string

func (f *multiFlag) String() string { return strings.Join(*f, ",") }

func (f *multiFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// main 启动邮件投递探测器。
func main() {
	os.Exit(run())
}

// run 承载全部启动逻辑，返回进程退出码。
// 独立出来是为了让 defer（日志落盘、信号解注册）在退出前执行。
func run() int {
	var (
		configPath = flag.String("config", "config.yml", "path to the YAML config file")
		accounts   multiFlag
		testPush   = flag.Bool("test-push", false, "send a test notification to each account's push URL and exit")
		daemon     = flag.Bool("daemon", false, "run probe cycles periodically and expose /metrics and /health endpoints")
		verbose    = flag.Bool("verbose", false, "force debug log level")
	)
	flag.Var(&accounts, "account", "probe only the named account (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath, accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailprobe: %v\n", err)
		return exitConfig
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化日志系统
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailprobe: failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting mailprobe",
		zap.String("config", *configPath),
		zap.Int("accounts", len(cfg.Accounts)),
		zap.Bool("daemon", cfg.Daemon.Enabled || *daemon),
	)
	log.Debug("effective configuration", zap.Any("config", cfg.Redacted))

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pushClient := report.NewPushClient(log)

	if *testPush {
		return runTestPush(ctx, cfg, pushClient, log)
	}

	if cfg.Daemon.Enabled || *daemon {
		return runDaemon(ctx, cfg, pushClient, log)
	}

	return runOnce(ctx, cfg, pushClient, log)
}

// runOnce 对所有选中账号执行一轮探测并上报，整体结论决定退出码。
func runOnce(ctx context.Context, cfg *config.Config, pushClient *report.PushClient, log *zap.Logger) int {
	r := runner.New(cfg, log, probe.New(log), pushClient, nil)

	results := r.RunAll(ctx)
	if runner.AllUp(results) {
		return exitOK
	}
	return exitDown
}

// runTestPush 向每个配置了推送地址的账号发送一条测试通知。
// 不执行任何 SMTP/IMAP 操作，用于验证推送令牌是否有效。
func runTestPush(ctx context.Context, cfg *config.Config, pushClient *report.PushClient, log *zap.Logger) int {
	code := exitOK
	for _, acct := range cfg.Accounts {
		if acct.PushURL == "" {
			fmt.Printf("%s: no push_url configured, skipping\n", acct.Name)
			continue
		}
		status, body, err := pushClient.TestPush(ctx, acct.PushURL)
		if err != nil {
			log.Error("push test failed", zap.String("account", acct.Name), zap.Error(err))
			fmt.Printf("%s: FAILED: %v\n", acct.Name, err)
			code = exitDown
			continue
		}
		fmt.Printf("%s: HTTP %d\n%s\n", acct.Name, status, body)
	}
	return code
}

// runDaemon 以固定周期执行探测，并通过 HTTP 暴露指标与健康检查。
func runDaemon(ctx context.Context, cfg *config.Config, pushClient *report.PushClient, log *zap.Logger) int {
	metrics := monitoring.NewMetrics()
	checker := health.NewChecker(cfg, log)
	r := runner.New(cfg, log, probe.New(log), pushClient, metrics)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))
	router.GET("/health/live", gin.WrapF(checker.LiveEndpoint()))
	router.GET("/health/ready", gin.WrapF(checker.ReadyEndpoint()))

	httpServer := &http.Server{
		Addr:              cfg.Daemon.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", cfg.Daemon.Listen))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 探测周期 goroutine：启动后立即执行一轮，之后按间隔触发。
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Daemon.Interval)
		defer ticker.Stop()

		log.Info("starting probe cycles", zap.Duration("interval", cfg.Daemon.Interval))
		runCycle(groupCtx, r, metrics, checker, log)

		for {
			select {
			case <-groupCtx.Done():
				log.Info("probe cycles stopped")
				return nil
			case <-ticker.C:
				runCycle(groupCtx, r, metrics, checker, log)
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("daemon exited with error", zap.Error(err))
		return exitDown
	}
	log.Info("daemon stopped")
	return exitOK
}

// runCycle 执行一轮全账号探测并刷新健康检查时间戳。
func runCycle(ctx context.Context, r *runner.Runner, metrics *monitoring.Metrics, checker *health.Checker, log *zap.Logger) {
	start := time.Now()
	results := r.RunAll(ctx)
	elapsed := time.Since(start)

	metrics.CycleDuration.Observe(elapsed.Seconds())
	checker.MarkCycle()

	up := 0
	for _, res := range results {
		if res.Status == probe.StatusUp {
			up++
		}
	}
	log.Info("probe cycle finished",
		zap.Int("up", up),
		zap.Int("down", len(results)-up),
		zap.Duration("elapsed", elapsed),
	)
}
