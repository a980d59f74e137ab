package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"paysettle/internal/gateway"
	"paysettle/internal/metrics"
	"paysettle/internal/model"
)

// Ack 回调处理结果
type Ack string

const (
	AckApplied        Ack = "APPLIED"
	AckAlreadySettled Ack = "ALREADY_SETTLED"
	AckUnknownOrder   Ack = "UNKNOWN_ORDER"
)

const (
	sourceWebhook = "webhook"
	sourcePoll    = "poll"
)

// PaymentStatusChecker 主动查询网关支付状态，由 gateway.Client 实现
type PaymentStatusChecker interface {
	CheckPaymentStatus(ctx context.Context, req gateway.PaymentCheckRequest) (*gateway.PaymentStatus, error)
}

// OrderLocker 按订单加锁，由 lock.OrderLocker 实现
type OrderLocker interface {
	Acquire(ctx context.Context, orderReference string) (func(), error)
}

// GatewayVerdict 回调或轮询得到的网关结论，两条路径共用同一套落账逻辑
type GatewayVerdict struct {
	Source         string
	OrderReference string
	Status         string // APPROVED / DENIED
	Fields         TransitionFields
}

// ============================================================================
// ReconcileService 网关结果对账
// ============================================================================
//
// 回调和轮询是两个独立、可能冲突的结果来源：
//   - 可能同时到达（回调 + 后台轮询）
//   - 回调可能重复推送
//   - 轮询可能在回调之后才返回
//
// 两条路径都走 apply：加订单锁 -> 查询 -> 终态判断 -> Ledger.Transition
// 网关调用在加锁之前完成，锁内只有数据库操作
// ============================================================================

type ReconcileService struct {
	ledger  *Ledger
	checker PaymentStatusChecker
	locker  OrderLocker
}

// NewReconcileService checker 为 nil 时轮询始终返回未结算；locker 为 nil 时只依赖乐观锁
func NewReconcileService(ledger *Ledger, checker PaymentStatusChecker, locker OrderLocker) *ReconcileService {
	return &ReconcileService{
		ledger:  ledger,
		checker: checker,
		locker:  locker,
	}
}

// ApplyNotification 处理网关回调
//
// 未知订单返回 AckUnknownOrder，已是终态返回 AckAlreadySettled，都不是错误
// 报文缺少 order_nsu 返回 ErrMalformedPayload；其余失败包装为 ErrReconcile
func (s *ReconcileService) ApplyNotification(ctx context.Context, payload *gateway.WebhookPayload) (Ack, error) {
	if payload == nil || strings.TrimSpace(payload.OrderNSU) == "" {
		metrics.ReconcileOutcomes.WithLabelValues(sourceWebhook, "malformed").Inc()
		return "", ErrMalformedPayload
	}

	log.Printf("[ReconcileService] 收到网关回调: orderReference=%s, slug=%s, amount=%d, captureMethod=%s",
		payload.OrderNSU, payload.InvoiceSlug, payload.Amount, payload.CaptureMethod)

	fields := TransitionFields{
		GatewaySlug:          payload.InvoiceSlug,
		GatewayTransactionID: payload.TransactionNSU,
		ReceiptURL:           payload.ReceiptURL,
		CaptureMethod:        payload.CaptureMethod,
		Installments:         payload.Installments,
	}
	if payload.Amount > 0 {
		net := payload.Amount
		fields.NetAmount = &net
	}

	return s.apply(ctx, GatewayVerdict{
		Source:         sourceWebhook,
		OrderReference: strings.TrimSpace(payload.OrderNSU),
		Status:         model.TransactionStatusApproved,
		Fields:         fields,
	})
}

// Reconcile 主动向网关查询并对账，返回交易是否已结算成功
//
// 网关失败或超时视为“暂未结算”，返回 (false, nil)
func (s *ReconcileService) Reconcile(ctx context.Context, orderReference string) (bool, error) {
	txn, err := s.ledger.FindByOrderReference(ctx, orderReference)
	if err != nil {
		return false, fmt.Errorf("%w: 查询交易失败: %w", ErrReconcile, err)
	}
	if txn == nil {
		metrics.ReconcileOutcomes.WithLabelValues(sourcePoll, "unknown_order").Inc()
		return false, nil
	}
	if model.IsTerminalStatus(txn.Status) {
		return txn.Status == model.TransactionStatusApproved, nil
	}
	if s.checker == nil {
		return false, nil
	}

	status, err := s.checker.CheckPaymentStatus(ctx, gateway.PaymentCheckRequest{
		OrderReference: txn.OrderReference,
		Slug:           txn.GatewaySlug,
		TransactionNSU: txn.GatewayTransactionID,
	})
	if err != nil {
		metrics.ReconcileOutcomes.WithLabelValues(sourcePoll, "gateway_error").Inc()
		log.Printf("[ReconcileService] 查询网关支付状态失败，按未结算处理: orderReference=%s, err=%v", orderReference, err)
		return false, nil
	}

	var verdict GatewayVerdict
	switch {
	case status.Paid:
		fields := TransitionFields{
			CaptureMethod: status.CaptureMethod,
			Installments:  status.Installments,
		}
		if status.Amount > 0 {
			net := status.Amount
			fields.NetAmount = &net
		}
		verdict = GatewayVerdict{Source: sourcePoll, OrderReference: orderReference, Status: model.TransactionStatusApproved, Fields: fields}
	case status.Denied():
		verdict = GatewayVerdict{
			Source:         sourcePoll,
			OrderReference: orderReference,
			Status:         model.TransactionStatusDenied,
			Fields:         TransitionFields{FailureReason: "网关拒绝: " + status.Status},
		}
	default:
		metrics.ReconcileOutcomes.WithLabelValues(sourcePoll, "pending").Inc()
		return false, nil
	}

	if _, err := s.apply(ctx, verdict); err != nil {
		return false, err
	}

	// 以落账后的状态为准：可能被并发的回调抢先写成了别的终态
	final, err := s.ledger.FindByOrderReference(ctx, orderReference)
	if err != nil {
		return false, fmt.Errorf("%w: 查询交易失败: %w", ErrReconcile, err)
	}
	return final != nil && final.Status == model.TransactionStatusApproved, nil
}

func (s *ReconcileService) apply(ctx context.Context, v GatewayVerdict) (Ack, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, v.OrderReference)
		if err != nil {
			metrics.ReconcileOutcomes.WithLabelValues(v.Source, "lock_failed").Inc()
			return "", fmt.Errorf("%w: %w", ErrReconcile, err)
		}
		defer release()
	}

	txn, err := s.ledger.FindByOrderReference(ctx, v.OrderReference)
	if err != nil {
		metrics.ReconcileOutcomes.WithLabelValues(v.Source, "error").Inc()
		return "", fmt.Errorf("%w: 查询交易失败: %w", ErrReconcile, err)
	}
	if txn == nil {
		metrics.ReconcileOutcomes.WithLabelValues(v.Source, "unknown_order").Inc()
		log.Printf("[ReconcileService] 未知订单，忽略: source=%s, orderReference=%s", v.Source, v.OrderReference)
		return AckUnknownOrder, nil
	}
	if model.IsTerminalStatus(txn.Status) {
		metrics.ReconcileOutcomes.WithLabelValues(v.Source, "already_settled").Inc()
		log.Printf("[ReconcileService] 交易已是终态，忽略: source=%s, orderReference=%s, status=%s", v.Source, v.OrderReference, txn.Status)
		return AckAlreadySettled, nil
	}

	updated, changed, err := s.ledger.Transition(ctx, txn.ID, v.Status, v.Fields)
	if err != nil {
		// 加锁与状态读取之间被其他来源写成了终态
		if errors.Is(err, ErrInvalidTransition) && updated != nil && model.IsTerminalStatus(updated.Status) {
			metrics.ReconcileOutcomes.WithLabelValues(v.Source, "already_settled").Inc()
			return AckAlreadySettled, nil
		}
		metrics.ReconcileOutcomes.WithLabelValues(v.Source, "error").Inc()
		return "", fmt.Errorf("%w: %w", ErrReconcile, err)
	}
	if !changed {
		metrics.ReconcileOutcomes.WithLabelValues(v.Source, "already_settled").Inc()
		return AckAlreadySettled, nil
	}

	metrics.ReconcileOutcomes.WithLabelValues(v.Source, "applied").Inc()
	log.Printf("[ReconcileService] 对账完成: source=%s, orderReference=%s, %s -> %s",
		v.Source, v.OrderReference, txn.Status, updated.Status)
	return AckApplied, nil
}
