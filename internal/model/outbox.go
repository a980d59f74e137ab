package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	SettlementEventCreated      = "transaction.created"
	SettlementEventTransitioned = "transaction.transitioned"
)

// OutboxMessage 本地消息表，与账本写入处于同一个数据库事务
// 由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AggregateID int64     `gorm:"index;not null" json:"aggregate_id"`
	EventType   string    `gorm:"type:varchar(64);not null" json:"event_type"`
	MessageKey  string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic       string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	Status      string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "settlement_outbox"
}

// SettlementEvent 投递到 settlement.result topic 的消息体
type SettlementEvent struct {
	EventType      string    `json:"event_type"`
	TransactionID  int64     `json:"transaction_id,string"`
	OrderReference string    `json:"order_reference"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Status         string    `json:"status"`
	SettlementMode string    `json:"settlement_mode"`
	PaymentType    string    `json:"payment_type"`
	Installments   int       `json:"installments"`
	Amount         int64     `json:"amount"`
	NetAmount      *int64    `json:"net_amount,omitempty"`
	ReceiptURL     string    `json:"receipt_url,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewSettlementEvent(eventType, previousStatus string, t *Transaction) SettlementEvent {
	return SettlementEvent{
		EventType:      eventType,
		TransactionID:  t.ID,
		OrderReference: t.OrderReference,
		PreviousStatus: previousStatus,
		Status:         t.Status,
		SettlementMode: t.SettlementMode,
		PaymentType:    t.PaymentType,
		Installments:   t.Installments,
		Amount:         t.Amount,
		NetAmount:      t.NetAmount,
		ReceiptURL:     t.ReceiptURL,
		OccurredAt:     time.Now(),
	}
}
