package handler

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"paysettle/internal/gateway"
	"paysettle/internal/model"
	"paysettle/internal/service"
	"paysettle/pkg/money"
	"paysettle/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req *service.PaymentRequest) (*model.Transaction, error)
}

type Reconciler interface {
	ApplyNotification(ctx context.Context, payload *gateway.WebhookPayload) (service.Ack, error)
	Reconcile(ctx context.Context, orderReference string) (bool, error)
}

type TransactionReader interface {
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetByOrderReference(ctx context.Context, orderReference string) (*model.Transaction, error)
	List(ctx context.Context, page, pageSize int) ([]*model.Transaction, int64, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	payments     PaymentProcessor
	reconciler   Reconciler
	transactions TransactionReader
}

func NewHandler(payments PaymentProcessor, reconciler Reconciler, transactions TransactionReader) *Handler {
	return &Handler{
		payments:     payments,
		reconciler:   reconciler,
		transactions: transactions,
	}
}

// transactionView 对外展示的交易，金额以两位小数字符串返回
type transactionView struct {
	ID                   int64       `json:"id,string"`
	OrderReference       string      `json:"order_reference"`
	Amount               string      `json:"amount"`
	Fee                  *string     `json:"fee"`
	NetAmount            *string     `json:"net_amount"`
	PaymentType          string      `json:"type"`
	Installments         int         `json:"installments"`
	SettlementMode       string      `json:"settlement_mode"`
	Status               string      `json:"status"`
	CheckoutURL          string      `json:"checkout_url,omitempty"`
	GatewaySlug          string      `json:"gateway_slug,omitempty"`
	GatewayTransactionID string      `json:"gateway_transaction_id,omitempty"`
	ReceiptURL           string      `json:"receipt_url,omitempty"`
	CaptureMethod        string      `json:"capture_method,omitempty"`
	FailureReason        string      `json:"failure_reason,omitempty"`
	Card                 *model.Card `json:"card,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"last_updated_at"`
}

func newTransactionView(t *model.Transaction) *transactionView {
	return &transactionView{
		ID:                   t.ID,
		OrderReference:       t.OrderReference,
		Amount:               money.Format(t.Amount),
		Fee:                  money.FormatPtr(t.Fee),
		NetAmount:            money.FormatPtr(t.NetAmount),
		PaymentType:          t.PaymentType,
		Installments:         t.Installments,
		SettlementMode:       t.SettlementMode,
		Status:               t.Status,
		CheckoutURL:          t.CheckoutURL,
		GatewaySlug:          t.GatewaySlug,
		GatewayTransactionID: t.GatewayTransactionID,
		ReceiptURL:           t.ReceiptURL,
		CaptureMethod:        t.CaptureMethod,
		FailureReason:        t.FailureReason,
		Card:                 t.Card,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

// writeError service 错误 -> 响应码，只在接入层做映射
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInstallmentCount),
		errors.Is(err, service.ErrInvalidPaymentType),
		errors.Is(err, money.ErrSubCentPrecision):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrUnsupportedPaymentType):
		response.BusinessError(c, response.CodeUnsupportedPaymentType, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		response.BusinessError(c, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrGateway):
		response.BusinessError(c, response.CodeGatewayError, err.Error())
	case errors.Is(err, service.ErrReconcile):
		response.BusinessError(c, response.CodeReconcileFailed, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 交易接口
// ============================================================

// CreateTransactionRequest amount 为十进制金额，例如 "50.00"
type CreateTransactionRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type" binding:"required"`
	Installments  int             `json:"installments" binding:"omitempty,min=1,max=24"`
	CardNumber    string          `json:"card_number" binding:"required"`
	CardHolder    string          `json:"card_holder" binding:"required"`
	CardExpiry    string          `json:"card_expiry" binding:"required"`
	CustomerEmail string          `json:"customer_email" binding:"omitempty,email"`
	CustomerPhone string          `json:"customer_phone"`
}

// CreateTransaction 发起支付
// POST /api/v1/transactions
//
// 本地结算直接返回 APPROVED；网关结算返回 PENDING 和 checkout_url
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		response.ParamError(c, service.ErrInvalidAmount.Error())
		return
	}
	cents, err := money.ToCents(req.Amount)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	txn, err := h.payments.ProcessPayment(c.Request.Context(), &service.PaymentRequest{
		Amount:        cents,
		PaymentType:   req.Type,
		Installments:  req.Installments,
		CardNumber:    req.CardNumber,
		CardHolder:    req.CardHolder,
		CardExpiry:    req.CardExpiry,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		if txn != nil {
			// 交易已落库（DECLINED），带回记录便于客户端展示
			response.Fail(c, response.CodePaymentDeclined, err.Error(), newTransactionView(txn))
			return
		}
		writeError(c, err)
		return
	}

	response.Success(c, newTransactionView(txn))
}

// GetTransaction 按 ID 查询
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	txn, err := h.transactions.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newTransactionView(txn))
}

// GetTransactionByOrderReference 按订单追踪号查询
// GET /api/v1/transactions/order/:order_reference
func (h *Handler) GetTransactionByOrderReference(c *gin.Context) {
	txn, err := h.transactions.GetByOrderReference(c.Request.Context(), c.Param("order_reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, newTransactionView(txn))
}

// ListTransactions 分页查询
// GET /api/v1/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	txns, total, err := h.transactions.List(c.Request.Context(), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	list := make([]*transactionView, 0, len(txns))
	for _, t := range txns {
		list = append(list, newTransactionView(t))
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ReconcileTransaction 手动触发一次网关状态查询
// POST /api/v1/transactions/order/:order_reference/reconcile
func (h *Handler) ReconcileTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	orderReference := c.Param("order_reference")

	if _, err := h.transactions.GetByOrderReference(ctx, orderReference); err != nil {
		writeError(c, err)
		return
	}

	settled, err := h.reconciler.Reconcile(ctx, orderReference)
	if err != nil {
		writeError(c, err)
		return
	}

	txn, err := h.transactions.GetByOrderReference(ctx, orderReference)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"settled":     settled,
		"transaction": newTransactionView(txn),
	})
}

// ============================================================
// 网关回调
// ============================================================

// InfinitePayWebhook 网关支付结果回调
// POST /api/webhooks/infinitepay
//
// 200：处理成功或无需处理（未知订单 / 已是终态）
// 422：报文不合法，网关不应重推
// 400：处理失败，网关会重推
func (h *Handler) InfinitePayWebhook(c *gin.Context) {
	var payload gateway.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("[Webhook] 回调报文解析失败: %v", err)
		response.WithStatus(c, 422, response.CodeMalformedPayload, "报文解析失败: "+err.Error(), nil)
		return
	}

	ack, err := h.reconciler.ApplyNotification(c.Request.Context(), &payload)
	if err != nil {
		if errors.Is(err, service.ErrMalformedPayload) {
			response.WithStatus(c, 422, response.CodeMalformedPayload, err.Error(), nil)
			return
		}
		log.Printf("[Webhook] 回调处理失败，等待网关重推: orderReference=%s, err=%v", payload.OrderNSU, err)
		response.WithStatus(c, 400, response.CodeReconcileFailed, err.Error(), nil)
		return
	}

	response.Success(c, gin.H{
		"ack":             ack,
		"order_reference": payload.OrderNSU,
	})
}

// WebhookHealth GET /api/webhooks/infinitepay/health
func (h *Handler) WebhookHealth(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
