package model

import (
	"strings"
	"time"
)

// ============================================================================
// 交易状态
// ============================================================================

const (
	TransactionStatusNone     = ""         // 尚未落库的初始状态
	TransactionStatusPending  = "PENDING"  // 已生成收银台链接，等待网关回调或轮询
	TransactionStatusApproved = "APPROVED" // 结算成功
	TransactionStatusDenied   = "DENIED"   // 网关明确拒绝
	TransactionStatusDeclined = "DECLINED" // 收银台链接生成失败，从未到达付款人
)

// ValidStatusTransitions 状态机：只能向前流转，终态之间不可互转
var ValidStatusTransitions = map[string][]string{
	TransactionStatusNone:    {TransactionStatusPending, TransactionStatusApproved, TransactionStatusDeclined},
	TransactionStatusPending: {TransactionStatusApproved, TransactionStatusDenied},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	switch status {
	case TransactionStatusApproved, TransactionStatusDenied, TransactionStatusDeclined:
		return true
	}
	return false
}

// IsIdempotentTransition 终态重复通知（APPROVED -> APPROVED 等）视为空操作
func IsIdempotentTransition(currentStatus, targetStatus string) bool {
	return IsTerminalStatus(currentStatus) && currentStatus == targetStatus
}

// ============================================================================
// 支付类型 & 结算模式
// ============================================================================

const (
	PaymentTypeDebit             = "DEBIT"
	PaymentTypeCreditSpot        = "CREDIT_SPOT"
	PaymentTypeCreditInstallment = "CREDIT_INSTALLMENT"
	PaymentTypeCredit            = "CREDIT" // 网关部署形态下的信用卡，分期数决定费率档位
	PaymentTypePix               = "PIX"
)

func NormalizePaymentType(paymentType string) (string, bool) {
	t := strings.ToUpper(strings.TrimSpace(paymentType))
	switch t {
	case PaymentTypeDebit, PaymentTypeCreditSpot, PaymentTypeCreditInstallment, PaymentTypeCredit, PaymentTypePix:
		return t, true
	}
	return "", false
}

const (
	SettlementModeLocal   = "LOCAL"
	SettlementModeGateway = "GATEWAY"
)

// ============================================================================
// 交易实体
// ============================================================================

// Transaction 交易表，以 order_reference 与网关回调/轮询结果关联
// 金额字段统一以分为单位存储
type Transaction struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OrderReference       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_reference"`
	Amount               int64     `gorm:"not null" json:"amount"`
	Fee                  *int64    `json:"fee"`
	NetAmount            *int64    `json:"net_amount"`
	PaymentType          string    `gorm:"type:varchar(32);not null" json:"payment_type"`
	Installments         int       `gorm:"not null" json:"installments"`
	SettlementMode       string    `gorm:"type:varchar(16);not null" json:"settlement_mode"`
	Status               string    `gorm:"type:varchar(20);index;not null" json:"status"`
	GatewaySlug          string    `gorm:"type:varchar(128)" json:"gateway_slug,omitempty"`
	GatewayTransactionID string    `gorm:"type:varchar(128)" json:"gateway_transaction_id,omitempty"`
	CheckoutURL          string    `gorm:"type:varchar(512)" json:"checkout_url,omitempty"`
	ReceiptURL           string    `gorm:"type:varchar(512)" json:"receipt_url,omitempty"`
	CaptureMethod        string    `gorm:"type:varchar(32)" json:"capture_method,omitempty"`
	FailureReason        string    `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	Version              int       `gorm:"not null;default:0" json:"-"` // 乐观锁版本号
	Card                 *Card     `gorm:"foreignKey:TransactionID" json:"card,omitempty"`
	CreatedAt            time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "settlement_transaction"
}
