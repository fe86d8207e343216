package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/config"
	"mailprobe/internal/probe"
)

// fakeProber 按账号名返回预设结果，名字带 "panic" 时触发 panic。
type fakeProber struct {
	mu      sync.Mutex
	results map[string]probe.Result
	delay   time.Duration
	calls   []string
}

func (f *fakeProber) Run(_ context.Context, acct config.Account) probe.Result {
	f.mu.Lock()
	f.calls = append(f.calls, acct.Name)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if acct.Name == "panic" {
		panic("boom")
	}
	if res, ok := f.results[acct.Name]; ok {
		return res
	}
	return probe.Result{Account: acct.Name, Status: probe.StatusUp, Message: "OK"}
}

// fakeNotifier 记录每次上报。
type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls map[string][]probe.Result
}

func (f *fakeNotifier) Notify(_ context.Context, pushURL string, res probe.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string][]probe.Result)
	}
	f.calls[res.Account] = append(f.calls[res.Account], res)
	return f.err
}

func testConfig(names ...string) *config.Config {
	cfg := &config.Config{Probe: config.ProbeConfig{MaxConcurrency: 1}}
	for _, name := range names {
		cfg.Accounts = append(cfg.Accounts, config.Account{Name: name, PushURL: "http://push.example/" + name})
	}
	return cfg
}

func TestRunAll(t *testing.T) {
	t.Run("结果与账号同序且每账号恰好上报一次", func(t *testing.T) {
		prober := &fakeProber{}
		notifier := &fakeNotifier{}
		r := New(testConfig("a", "b", "c"), zap.NewNop(), prober, notifier, nil)

		results := r.RunAll(context.Background())

		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].Account)
		assert.Equal(t, "b", results[1].Account)
		assert.Equal(t, "c", results[2].Account)
		for _, name := range []string{"a", "b", "c"} {
			assert.Len(t, notifier.calls[name], 1, "exactly one push per account")
		}
	})

	t.Run("单个账号失败不影响其他账号", func(t *testing.T) {
		prober := &fakeProber{results: map[string]probe.Result{
			"b": {Account: "b", Status: probe.StatusDown, Message: "SMTP failed: dial refused"},
		}}
		notifier := &fakeNotifier{}
		r := New(testConfig("a", "b", "c"), zap.NewNop(), prober, notifier, nil)

		results := r.RunAll(context.Background())

		assert.Equal(t, probe.StatusUp, results[0].Status)
		assert.Equal(t, probe.StatusDown, results[1].Status)
		assert.Equal(t, probe.StatusUp, results[2].Status)
		assert.Len(t, prober.calls, 3)
	})

	t.Run("探测 panic 转换为 down 结果且仍然上报", func(t *testing.T) {
		prober := &fakeProber{}
		notifier := &fakeNotifier{}
		r := New(testConfig("a", "panic", "c"), zap.NewNop(), prober, notifier, nil)

		results := r.RunAll(context.Background())

		require.Len(t, results, 3)
		assert.Equal(t, probe.StatusDown, results[1].Status)
		assert.Contains(t, results[1].Message, "internal error")
		assert.Len(t, notifier.calls["panic"], 1)
		assert.Equal(t, probe.StatusUp, results[2].Status, "later accounts still run")
	})

	t.Run("推送失败不改变探测结论", func(t *testing.T) {
		prober := &fakeProber{}
		notifier := &fakeNotifier{err: assert.AnError}
		r := New(testConfig("a"), zap.NewNop(), prober, notifier, nil)

		results := r.RunAll(context.Background())
		assert.Equal(t, probe.StatusUp, results[0].Status)
	})

	t.Run("取消后未执行的账号得到说明性 down 结果", func(t *testing.T) {
		prober := &fakeProber{delay: 50 * time.Millisecond}
		notifier := &fakeNotifier{}
		r := New(testConfig("a", "b", "c", "d"), zap.NewNop(), prober, notifier, nil)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(60 * time.Millisecond)
			cancel()
		}()

		results := r.RunAll(ctx)

		require.Len(t, results, 4)
		aborted := 0
		for _, res := range results {
			if res.Message == "probe aborted: shutdown signal received" {
				aborted++
				assert.Equal(t, probe.StatusDown, res.Status)
			}
		}
		assert.Greater(t, aborted, 0, "at least the tail accounts must be reported as aborted")
	})

	t.Run("并发度大于 1 时所有账号都会执行", func(t *testing.T) {
		cfg := testConfig("a", "b", "c", "d", "e")
		cfg.Probe.MaxConcurrency = 3
		prober := &fakeProber{delay: 5 * time.Millisecond}
		notifier := &fakeNotifier{}
		r := New(cfg, zap.NewNop(), prober, notifier, nil)

		results := r.RunAll(context.Background())

		require.Len(t, results, 5)
		assert.Len(t, prober.calls, 5)
		assert.True(t, AllUp(results))
	})
}

func TestAllUp(t *testing.T) {
	up := probe.Result{Status: probe.StatusUp}
	down := probe.Result{Status: probe.StatusDown}

	assert.True(t, AllUp([]probe.Result{up, up}))
	assert.False(t, AllUp([]probe.Result{up, down}))
	assert.False(t, AllUp(nil), "空结果集不算健康")
}
