package failover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/config"
	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// ReportTitle 是告警文本的固定标题，运维侧按此过滤
const ReportTitle = "**Kafka Message Processing Failed**"

// ErrNotifierDisabled 表示告警未启用或未配置 URL，此时不会发起任何 HTTP 请求
var ErrNotifierDisabled = errors.New("failover webhook 未启用或未配置 URL")

// NotifyError 表示 webhook 调用失败 (网络错误或非 2xx 响应)
type NotifyError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NotifyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook 通知失败 (url=%s, status=%d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("webhook 通知失败 (url=%s): %v", e.URL, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

type webhookPayload struct {
	Text string `json:"text"`
}

// WebhookNotifier 将失败报告以 {"text": ...} 的形式 POST 到运维 webhook。
type WebhookNotifier struct {
	cfg    config.FailoverConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewWebhookNotifier 创建通知器，HTTP 客户端超时取自 cfg.WebhookTimeout()
func NewWebhookNotifier(cfg config.FailoverConfig, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.WebhookTimeout()},
		logger: logger,
		now:    time.Now,
	}
}

// Enabled 报告是否会真正发起 HTTP 调用
func (n *WebhookNotifier) Enabled() bool {
	return n.cfg.WebhookEnabled && strings.TrimSpace(n.cfg.WebhookURL) != ""
}

// Notify 发送一次失败报告。未启用时返回 ErrNotifierDisabled，调用失败时返回 *NotifyError。
func (n *WebhookNotifier) Notify(ctx context.Context, dc models.DeliveryContext) error {
	if !n.Enabled() {
		return ErrNotifierDisabled
	}

	body, err := json.Marshal(webhookPayload{Text: FormatFailureReport(dc, n.now())})
	if err != nil {
		return &NotifyError{URL: n.cfg.WebhookURL, Err: fmt.Errorf("序列化告警内容失败: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{URL: n.cfg.WebhookURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &NotifyError{URL: n.cfg.WebhookURL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &NotifyError{
			URL:        n.cfg.WebhookURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	n.logger.Debug("failover webhook 通知已发送",
		zap.String("topic", dc.Topic),
		zap.Int32("partition", dc.Partition),
		zap.String("offset", dc.Offset),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

// FormatFailureReport 生成给人看的失败报告 (Markdown 文本)。
func FormatFailureReport(dc models.DeliveryContext, at time.Time) string {
	var b strings.Builder
	b.WriteString(ReportTitle)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "- **Original Topic**: %s\n", dc.Topic)
	fmt.Fprintf(&b, "- **Partition**: %d\n", dc.Partition)
	fmt.Fprintf(&b, "- **Offset**: %s\n", dc.Offset)
	fmt.Fprintf(&b, "- **Error Message**: %s\n", dc.ErrorMessage())
	fmt.Fprintf(&b, "- **Timestamp**: %s\n", FormatTimestamp(at))
	b.WriteString("\n- **Failed Message**:\n```json\n")
	b.WriteString(prettyMessage(dc.Message))
	b.WriteString("\n```")
	return b.String()
}

// FormatTimestamp 输出 ISO-8601 UTC 时间 (毫秒精度)
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func prettyMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// 非 JSON 消息体，按 JSON 字符串原样展示
		quoted, _ := json.Marshal(string(raw))
		return string(quoted)
	}
	return buf.String()
}
