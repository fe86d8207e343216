// Package report 把探测结果投递给外部推送监控端点。
//
// 推送端点接受固定的三字段载荷：status（up|down）、msg（≤200 字符）、
// ping（整数毫秒，仅计 SMTP 阶段）。推送失败只记录日志，永远不会
// 改变已经得出的探测结论。
package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailprobe/internal/probe"
)

// pushTimeout 是单次推送请求的超时。
const pushTimeout = 10 * time.Second

// maxResponseBytes 限制读取推送端点响应体的大小。
const maxResponseBytes = 4 << 10

// PushClient 向推送监控端点发送心跳。
//
// 内置限速器保护端点：常驻模式下误配置的过短探测间隔不会把
// 推送端点打垮。
type PushClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewPushClient 创建推送客户端。
func NewPushClient(log *zap.Logger) *PushClient {
	return &PushClient{
		httpClient: &http.Client{Timeout: pushTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
		log:        log,
	}
}

// Notify 把一个探测结果上报到 pushURL。
//
// pushURL 为空表示该账号未配置推送，静默跳过，不算错误。
// ping 参数只在发送阶段实际完成时携带（发送失败时延迟未知，省略）。
// 返回的错误仅供调用方记录；按约定它不参与探测结论。
func (c *PushClient) Notify(ctx context.Context, pushURL string, res probe.Result) error {
	if pushURL == "" {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u, err := url.Parse(pushURL)
	if err != nil {
		return fmt.Errorf("invalid push url: %w", err)
	}
	q := u.Query()
	q.Set("status", string(res.Status))
	q.Set("msg", probe.Truncate(res.Message))
	if res.SMTPLatency > 0 {
		q.Set("ping", strconv.FormatInt(res.SMTPLatency.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push delivery failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	c.log.Info("probe result pushed",
		zap.String("account", res.Account),
		zap.String("status", string(res.Status)),
		zap.Int("http_status", resp.StatusCode),
	)
	return nil
}

// TestPush 只做推送地址的连通性/有效性检查，不执行任何邮件操作。
// 用于独立于邮件链路验证推送 token。返回传输层状态码与响应体。
func (c *PushClient) TestPush(ctx context.Context, pushURL string) (int, string, error) {
	u, err := url.Parse(pushURL)
	if err != nil {
		return 0, "", fmt.Errorf("invalid push url: %w", err)
	}
	q := u.Query()
	q.Set("status", string(probe.StatusUp))
	q.Set("msg", "mailprobe push token test")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(body), nil
}
