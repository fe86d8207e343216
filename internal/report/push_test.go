package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailprobe/internal/probe"
)

func upResult() probe.Result {
	return probe.Result{
		Account:     "test",
		Status:      probe.StatusUp,
		Message:     "OK",
		SMTPLatency: 1234 * time.Millisecond,
		Matched:     true,
	}
}

func TestNotify(t *testing.T) {
	t.Run("携带 status msg ping 三个参数", func(t *testing.T) {
		var got url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := NewPushClient(zap.NewNop())
		err := c.Notify(context.Background(), srv.URL+"/api/push/abc123", upResult())
		require.NoError(t, err)

		assert.Equal(t, "up", got.Get("status"))
		assert.Equal(t, "OK", got.Get("msg"))
		assert.Equal(t, "1234", got.Get("ping"), "ping 为整数毫秒")
	})

	t.Run("发送失败时省略 ping", func(t *testing.T) {
		var got url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query()
		}))
		defer srv.Close()

		res := probe.Result{Account: "test", Status: probe.StatusDown, Message: "SMTP failed: dial refused"}
		c := NewPushClient(zap.NewNop())
		require.NoError(t, c.Notify(context.Background(), srv.URL, res))

		assert.Equal(t, "down", got.Get("status"))
		assert.False(t, got.Has("ping"), "延迟未知时不得上报 ping")
	})

	t.Run("超长 msg 被截断", func(t *testing.T) {
		var got url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query()
		}))
		defer srv.Close()

		res := upResult()
		res.Message = strings.Repeat("e", probe.MaxMessageLen*3)
		c := NewPushClient(zap.NewNop())
		require.NoError(t, c.Notify(context.Background(), srv.URL, res))

		assert.Len(t, got.Get("msg"), probe.MaxMessageLen)
	})

	t.Run("保留推送地址已有的查询参数", func(t *testing.T) {
		var got url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query()
		}))
		defer srv.Close()

		c := NewPushClient(zap.NewNop())
		require.NoError(t, c.Notify(context.Background(), srv.URL+"/push?token=xyz", upResult()))

		assert.Equal(t, "xyz", got.Get("token"))
		assert.Equal(t, "up", got.Get("status"))
	})

	t.Run("非 2xx 响应视为推送失败", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid token", http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewPushClient(zap.NewNop())
		err := c.Notify(context.Background(), srv.URL, upResult())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("空推送地址静默跳过", func(t *testing.T) {
		c := NewPushClient(zap.NewNop())
		assert.NoError(t, c.Notify(context.Background(), "", upResult()))
	})

	t.Run("端点不可达返回错误", func(t *testing.T) {
		c := NewPushClient(zap.NewNop())
		err := c.Notify(context.Background(), "http://127.0.0.1:1/push", upResult())
		require.Error(t, err)
	})
}

func TestTestPush(t *testing.T) {
	t.Run("发送固定的测试载荷", func(t *testing.T) {
		var got url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Query()
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		c := NewPushClient(zap.NewNop())
		status, body, err := c.TestPush(context.Background(), srv.URL)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, `{"ok":true}`, body)
		assert.Equal(t, "up", got.Get("status"))
		assert.NotEmpty(t, got.Get("msg"))
		assert.False(t, got.Has("ping"))
	})

	t.Run("返回非 2xx 的状态码与响应体", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad token", http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := NewPushClient(zap.NewNop())
		status, body, err := c.TestPush(context.Background(), srv.URL)
		require.NoError(t, err, "状态码由调用方解读")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Contains(t, body, "bad token")
	})
}
