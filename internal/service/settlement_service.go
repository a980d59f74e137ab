package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"paysettle/internal/config"
	"paysettle/internal/fee"
	"paysettle/internal/gateway"
	"paysettle/internal/model"
	"paysettle/pkg/idgen"
	"paysettle/pkg/money"
)

// CheckoutLinkIssuer 生成收银台链接，由 gateway.Client 实现
type CheckoutLinkIssuer interface {
	IssueCheckoutLink(ctx context.Context, req gateway.CheckoutLinkRequest) (*gateway.CheckoutLink, error)
}

// PaymentRequest 已经过接入层校验的支付请求，金额以分为单位
type PaymentRequest struct {
	Amount        int64
	PaymentType   string
	Installments  int
	CardNumber    string
	CardHolder    string
	CardExpiry    string
	CustomerEmail string
	CustomerPhone string
}

// SettlementStrategy 结算策略
// Settle 返回错误且没有设置状态时，请求直接拒绝，不写账本
type SettlementStrategy interface {
	Mode() string
	Settle(ctx context.Context, txn *model.Transaction, req *PaymentRequest) error
}

// ============================================================================
// 本地结算：按费率计算手续费，直接 APPROVED
// ============================================================================

type LocalSettlement struct {
	calc *fee.Calculator
}

func NewLocalSettlement(calc *fee.Calculator) *LocalSettlement {
	return &LocalSettlement{calc: calc}
}

func (s *LocalSettlement) Mode() string { return model.SettlementModeLocal }

func (s *LocalSettlement) Settle(ctx context.Context, txn *model.Transaction, req *PaymentRequest) error {
	q, err := s.calc.Quote(txn.Amount, txn.PaymentType, txn.Installments)
	if err != nil {
		return err
	}

	txn.Fee = &q.Fee
	txn.NetAmount = &q.NetAmount
	txn.Status = model.TransactionStatusApproved
	return nil
}

// ============================================================================
// 网关结算：生成收银台链接，交易进入 PENDING，等待回调或轮询
// ============================================================================

type GatewaySettlement struct {
	issuer  CheckoutLinkIssuer
	timeout time.Duration
}

func NewGatewaySettlement(issuer CheckoutLinkIssuer, timeout time.Duration) *GatewaySettlement {
	return &GatewaySettlement{issuer: issuer, timeout: timeout}
}

func (s *GatewaySettlement) Mode() string { return model.SettlementModeGateway }

func (s *GatewaySettlement) Settle(ctx context.Context, txn *model.Transaction, req *PaymentRequest) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	link, err := s.issuer.IssueCheckoutLink(ctx, gateway.CheckoutLinkRequest{
		AmountCents:    txn.Amount,
		Description:    PaymentDescription(txn.PaymentType, txn.Installments, txn.Amount),
		OrderReference: txn.OrderReference,
		Customer:       customerFor(req),
	})
	if err != nil {
		// 链接没有生成，付款人永远不会看到这笔交易
		txn.Status = model.TransactionStatusDeclined
		txn.FailureReason = truncate(err.Error(), 256)
		return fmt.Errorf("生成收银台链接失败: %w", err)
	}

	txn.Status = model.TransactionStatusPending
	txn.CheckoutURL = link.CheckoutURL
	txn.GatewaySlug = link.Slug
	return nil
}

// customerFor 持卡人姓名和邮箱都有时才带上付款人信息
func customerFor(req *PaymentRequest) *gateway.Customer {
	name := strings.TrimSpace(req.CardHolder)
	email := strings.TrimSpace(req.CustomerEmail)
	if name == "" || email == "" {
		return nil
	}
	return &gateway.Customer{
		Name:        name,
		Email:       email,
		PhoneNumber: strings.TrimSpace(req.CustomerPhone),
	}
}

// PaymentDescription 收银台上展示给付款人的描述
func PaymentDescription(paymentType string, installments int, amount int64) string {
	var desc string
	switch paymentType {
	case model.PaymentTypeDebit:
		desc = "Pagamento com Débito"
	case model.PaymentTypePix:
		desc = "Pagamento via PIX"
	default:
		if installments > 1 {
			desc = fmt.Sprintf("Pagamento com Crédito (%dx)", installments)
		} else {
			desc = "Pagamento com Crédito à vista"
		}
	}
	return desc + " - R$ " + money.Format(amount)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ============================================================================
// SettlementService 支付入口，按配置选择结算策略
// ============================================================================

const maxOrderReferenceAttempts = 3

var errOrderReferenceExhausted = errors.New("订单追踪号连续冲突")

type SettlementService struct {
	ledger     *Ledger
	routes     config.SettlementConfig
	strategies map[string]SettlementStrategy
	nextRef    func() string
}

// NewSettlementService gateway 策略可以为 nil（纯本地部署）
func NewSettlementService(ledger *Ledger, routes config.SettlementConfig, local *LocalSettlement, gw *GatewaySettlement) *SettlementService {
	strategies := map[string]SettlementStrategy{
		config.SettlementModeLocal: local,
	}
	if gw != nil {
		strategies[config.SettlementModeGateway] = gw
	}
	return &SettlementService{
		ledger:     ledger,
		routes:     routes,
		strategies: strategies,
		nextRef:    idgen.GenerateOrderReference,
	}
}

func (s *SettlementService) strategyFor(paymentType string) (SettlementStrategy, error) {
	mode := s.routes.RouteFor(paymentType)
	strategy, ok := s.strategies[mode]
	if !ok {
		return nil, fmt.Errorf("支付类型 %s 路由到 %q，但该结算模式未启用", paymentType, mode)
	}
	return strategy, nil
}

// ProcessPayment 处理一笔支付
//
// 本地结算：写入一条 APPROVED 记录
// 网关结算：成功写入 PENDING；链接生成失败写入 DECLINED，同时返回 ErrGateway 包装的错误
func (s *SettlementService) ProcessPayment(ctx context.Context, req *PaymentRequest) (*model.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	paymentType, ok := model.NormalizePaymentType(req.PaymentType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentType, req.PaymentType)
	}
	installments := req.Installments
	if installments == 0 {
		installments = 1
	}
	if err := fee.ValidateInstallments(installments); err != nil {
		return nil, err
	}

	strategy, err := s.strategyFor(paymentType)
	if err != nil {
		return nil, err
	}

	orderReference, err := s.newOrderReference(ctx)
	if err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ID:             idgen.NextID(),
		OrderReference: orderReference,
		Amount:         req.Amount,
		PaymentType:    paymentType,
		Installments:   installments,
		SettlementMode: strategy.Mode(),
	}
	if req.CardNumber != "" {
		txn.Card = model.NewCard(req.CardNumber, req.CardHolder, req.CardExpiry)
	}

	settleErr := strategy.Settle(ctx, txn, req)
	if settleErr != nil && txn.Status == model.TransactionStatusNone {
		return nil, settleErr
	}

	if err := s.ledger.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("写入账本失败: %w", err)
	}

	if settleErr != nil {
		log.Printf("[SettlementService] 交易被拒绝: orderReference=%s, status=%s, err=%v", txn.OrderReference, txn.Status, settleErr)
		return txn, settleErr
	}

	log.Printf("[SettlementService] 交易已受理: orderReference=%s, mode=%s, type=%s, amount=%d, status=%s",
		txn.OrderReference, txn.SettlementMode, txn.PaymentType, txn.Amount, txn.Status)
	return txn, nil
}

// newOrderReference 发给网关之前先确认追踪号没有被占用
func (s *SettlementService) newOrderReference(ctx context.Context) (string, error) {
	for i := 0; i < maxOrderReferenceAttempts; i++ {
		ref := s.nextRef()
		exists, err := s.ledger.OrderReferenceExists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("检查订单追踪号失败: %w", err)
		}
		if !exists {
			return ref, nil
		}
		log.Printf("[SettlementService] 订单追踪号冲突，重新生成: %s", ref)
	}
	return "", errOrderReferenceExhausted
}
