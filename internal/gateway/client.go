package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"paysettle/internal/config"
	"paysettle/internal/metrics"
)

const (
	checkoutLinksPath = "/invoices/public/checkout/links"
	paymentCheckPath  = "/invoices/public/checkout/payment_check"

	// WebhookPath 回调地址 = webhook_base_url + WebhookPath
	WebhookPath = "/api/webhooks/infinitepay"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 2048
)

const (
	OpCheckoutLink = "checkout_link"
	OpPaymentCheck = "payment_check"
)

var ErrGateway = errors.New("网关调用失败")

// Error 网关调用错误：传输失败、超时、非 2xx、响应无法解析
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gateway ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrGateway }

// Timeout 是否为超时
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Client 收银台网关客户端，不做任何重试，失败立即返回给调用方
type Client struct {
	httpClient *http.Client
	cfg        config.GatewayConfig
}

func NewClient(cfg config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.WebhookBaseURL = strings.TrimRight(cfg.WebhookBaseURL, "/")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

// Timeout 单次调用的超时上限
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

func (c *Client) WebhookURL() string {
	if c.cfg.WebhookBaseURL == "" {
		return ""
	}
	return c.cfg.WebhookBaseURL + WebhookPath
}

// IssueCheckoutLink 生成付款人使用的收银台链接，不写账本
func (c *Client) IssueCheckoutLink(ctx context.Context, req CheckoutLinkRequest) (*CheckoutLink, error) {
	body := checkoutLinkBody{
		Handle: c.cfg.Handle,
		Items: []CheckoutItem{{
			Quantity:    1,
			Price:       req.AmountCents,
			Description: req.Description,
		}},
		OrderNSU:    req.OrderReference,
		RedirectURL: c.cfg.RedirectURL,
		WebhookURL:  c.WebhookURL(),
		Customer:    req.Customer,
	}

	var link CheckoutLink
	if err := c.post(ctx, OpCheckoutLink, checkoutLinksPath, body, &link); err != nil {
		return nil, err
	}
	if link.CheckoutURL == "" {
		msg := "响应缺少 checkout_url"
		if link.Message != "" {
			msg += ": " + link.Message
		}
		metrics.GatewayRequests.WithLabelValues(OpCheckoutLink, "invalid_response").Inc()
		return nil, &Error{Op: OpCheckoutLink, Err: errors.New(msg)}
	}

	log.Printf("[Gateway] 收银台链接生成成功: orderReference=%s, slug=%s", req.OrderReference, link.Slug)
	return &link, nil
}

// CheckPaymentStatus 主动查询支付状态，用于回调丢失时兜底
func (c *Client) CheckPaymentStatus(ctx context.Context, req PaymentCheckRequest) (*PaymentStatus, error) {
	body := paymentCheckBody{
		Handle:         c.cfg.Handle,
		OrderNSU:       req.OrderReference,
		TransactionNSU: req.TransactionNSU,
		Slug:           req.Slug,
	}

	var status PaymentStatus
	if err := c.post(ctx, OpPaymentCheck, paymentCheckPath, body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	fail := func(e *Error) error {
		result := "error"
		if e.Timeout() {
			result = "timeout"
		}
		metrics.GatewayRequests.WithLabelValues(op, result).Inc()
		return e
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fail(&Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fail(&Error{Op: op, Err: fmt.Errorf("create request: %w", err)})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(&Error{Op: op, Err: err})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(&Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return fail(&Error{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fail(&Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)})
	}

	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	return nil
}
