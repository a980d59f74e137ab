package gateway

import "strings"

// 网关报文字段以 InfinitePay 公开收银台接口为准
// 收银台创建接口的响应结构官方未明确给出，这里只依赖 checkout_url / slug，其余字段容忍缺失

type CheckoutItem struct {
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"` // 分
	Description string `json:"description"`
}

type Customer struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// CheckoutLinkRequest 生成收银台链接的入参
type CheckoutLinkRequest struct {
	AmountCents    int64
	Description    string
	OrderReference string
	Customer       *Customer
}

type checkoutLinkBody struct {
	Handle      string         `json:"handle"`
	Items       []CheckoutItem `json:"items"`
	OrderNSU    string         `json:"order_nsu"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	Customer    *Customer      `json:"customer,omitempty"`
}

type CheckoutLink struct {
	CheckoutURL string `json:"checkout_url"`
	Slug        string `json:"slug"`
	Success     *bool  `json:"success,omitempty"`
	Message     string `json:"message,omitempty"`
}

// PaymentCheckRequest 主动查询支付状态，三个标识至少有一个
type PaymentCheckRequest struct {
	OrderReference string
	Slug           string
	TransactionNSU string
}

type paymentCheckBody struct {
	Handle         string `json:"handle"`
	OrderNSU       string `json:"order_nsu,omitempty"`
	TransactionNSU string `json:"transaction_nsu,omitempty"`
	Slug           string `json:"slug,omitempty"`
}

type PaymentStatus struct {
	Success       bool   `json:"success"`
	Paid          bool   `json:"paid"`
	Amount        int64  `json:"amount"`
	Installments  int    `json:"installments"`
	CaptureMethod string `json:"capture_method"`
	Status        string `json:"status,omitempty"`
}

var deniedStatuses = map[string]struct{}{
	"denied":    {},
	"refused":   {},
	"canceled":  {},
	"cancelled": {},
	"expired":   {},
}

// Denied 网关明确给出拒绝/取消信号
func (s *PaymentStatus) Denied() bool {
	if s.Paid {
		return false
	}
	_, ok := deniedStatuses[strings.ToLower(strings.TrimSpace(s.Status))]
	return ok
}

// WebhookPayload 支付完成后网关推送的回调，order_nsu 必填
type WebhookPayload struct {
	InvoiceSlug    string         `json:"invoice_slug"`
	Amount         int64          `json:"amount"`
	Installments   int            `json:"installments"`
	CaptureMethod  string         `json:"capture_method"`
	TransactionNSU string         `json:"transaction_nsu"`
	OrderNSU       string         `json:"order_nsu"`
	ReceiptURL     string         `json:"receipt_url"`
	Items          []CheckoutItem `json:"items"`
}
