package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"paysettle/internal/metrics"
	"paysettle/internal/model"
	"paysettle/internal/repository"
	"paysettle/pkg/idgen"

	"gorm.io/gorm"
)

// TransitionFields 状态流转时随之写入的字段，零值字段不更新
type TransitionFields struct {
	NetAmount            *int64
	GatewaySlug          string
	GatewayTransactionID string
	ReceiptURL           string
	CaptureMethod        string
	Installments         int
	FailureReason        string
}

func (f TransitionFields) columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if f.NetAmount != nil {
		cols["net_amount"] = *f.NetAmount
	}
	if f.GatewaySlug != "" {
		cols["gateway_slug"] = f.GatewaySlug
	}
	if f.GatewayTransactionID != "" {
		cols["gateway_transaction_id"] = f.GatewayTransactionID
	}
	if f.ReceiptURL != "" {
		cols["receipt_url"] = f.ReceiptURL
	}
	if f.CaptureMethod != "" {
		cols["capture_method"] = f.CaptureMethod
	}
	if f.Installments > 0 {
		cols["installments"] = f.Installments
	}
	if f.FailureReason != "" {
		cols["failure_reason"] = f.FailureReason
	}
	return cols
}

// ============================================================================
// Ledger 交易账本
// ============================================================================
//
// 所有状态变更都经过 Transition：
//   1. 事务内读取当前记录
//   2. 状态机校验（终态重复通知直接返回，不算错误）
//   3. UPDATE ... WHERE id = ? AND status = ? AND version = ?
//   4. 同一事务写入本地消息表
//
// 乐观锁冲突时用最新记录重新判断一次：先到者生效，后到者变成空操作
// ============================================================================

const maxTransitionAttempts = 2

type Ledger struct {
	db         *gorm.DB
	txnRepo    *repository.TransactionRepository
	outboxRepo *repository.OutboxRepository
	eventTopic string
}

// NewLedger eventTopic 为空时不写本地消息表
func NewLedger(db *gorm.DB, eventTopic string) *Ledger {
	return &Ledger{
		db:         db,
		txnRepo:    repository.NewTransactionRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		eventTopic: eventTopic,
	}
}

// Create 写入新交易，初始状态必须是状态机允许的入口状态
func (l *Ledger) Create(ctx context.Context, t *model.Transaction) error {
	if !model.CanTransitionTo(model.TransactionStatusNone, t.Status) {
		return fmt.Errorf("%w: 初始状态不能是 %q", ErrInvalidTransition, t.Status)
	}
	if t.ID == 0 {
		t.ID = idgen.NextID()
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := l.txnRepo.Create(ctx, tx, t); err != nil {
			return fmt.Errorf("创建交易失败: %w", err)
		}
		return l.writeEvent(ctx, tx, model.SettlementEventCreated, model.TransactionStatusNone, t)
	})
	if err != nil {
		return err
	}

	metrics.TransactionsCreated.WithLabelValues(t.SettlementMode, t.Status).Inc()
	return nil
}

// Transition 推进交易状态，返回最新记录以及本次是否真正发生了变更
func (l *Ledger) Transition(ctx context.Context, id int64, toStatus string, fields TransitionFields) (*model.Transaction, bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		txn, changed, err := l.transitionOnce(ctx, id, toStatus, fields)
		if err == nil {
			result := "noop"
			if changed {
				result = "applied"
			}
			metrics.TransitionsTotal.WithLabelValues(toStatus, result).Inc()
			return txn, changed, nil
		}

		if errors.Is(err, repository.ErrVersionConflict) {
			metrics.TransitionsTotal.WithLabelValues(toStatus, "conflict").Inc()
			log.Printf("[Ledger] 乐观锁冲突，重新读取后再判断: id=%d, target=%s", id, toStatus)
			lastErr = err
			continue
		}
		if errors.Is(err, ErrInvalidTransition) {
			// 已被其他来源写成终态属于正常竞争结果，由调用方决定如何应答
			if txn != nil && model.IsTerminalStatus(txn.Status) {
				metrics.TransitionsTotal.WithLabelValues(toStatus, "superseded").Inc()
				log.Printf("[Ledger] 交易已被结算为 %s，放弃流转: id=%d, target=%s", txn.Status, id, toStatus)
			} else {
				metrics.TransitionsTotal.WithLabelValues(toStatus, "invalid").Inc()
				log.Printf("[Ledger] ERROR 非法状态流转: id=%d, err=%v", id, err)
			}
		}
		return txn, false, err
	}
	return nil, false, fmt.Errorf("交易 %d 状态更新失败: %w", id, lastErr)
}

func (l *Ledger) transitionOnce(ctx context.Context, id int64, toStatus string, fields TransitionFields) (*model.Transaction, bool, error) {
	var (
		result  *model.Transaction
		changed bool
	)

	err := l.db.Transaction(func(tx *gorm.DB) error {
		current, err := l.txnRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		result = current

		if model.IsIdempotentTransition(current.Status, toStatus) {
			return nil
		}
		if !model.CanTransitionTo(current.Status, toStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, toStatus)
		}

		if err := l.txnRepo.UpdateStatus(ctx, tx, id, current.Status, current.Version, toStatus, fields.columns()); err != nil {
			return err
		}

		updated, err := l.txnRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := l.writeEvent(ctx, tx, model.SettlementEventTransitioned, current.Status, updated); err != nil {
			return err
		}

		result = updated
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return result, false, err
		}
		return nil, false, err
	}
	return result, changed, nil
}

func (l *Ledger) writeEvent(ctx context.Context, tx *gorm.DB, eventType, previousStatus string, t *model.Transaction) error {
	if l.eventTopic == "" {
		return nil
	}

	payload, err := json.Marshal(model.NewSettlementEvent(eventType, previousStatus, t))
	if err != nil {
		return fmt.Errorf("序列化结算事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		AggregateID: t.ID,
		EventType:   eventType,
		MessageKey:  t.OrderReference,
		Topic:       l.eventTopic,
		Payload:     string(payload),
		Status:      model.OutboxStatusPending,
	}
	if err := l.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// FindByOrderReference 未找到返回 (nil, nil)
func (l *Ledger) FindByOrderReference(ctx context.Context, orderReference string) (*model.Transaction, error) {
	return l.txnRepo.GetByOrderReference(ctx, orderReference)
}

func (l *Ledger) FindByID(ctx context.Context, id int64) (*model.Transaction, error) {
	t, err := l.txnRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

func (l *Ledger) OrderReferenceExists(ctx context.Context, orderReference string) (bool, error) {
	return l.txnRepo.ExistsOrderReference(ctx, orderReference)
}

func (l *Ledger) List(ctx context.Context, page, pageSize int) ([]*model.Transaction, int64, error) {
	return l.txnRepo.List(ctx, page, pageSize)
}

// ListStalePending 创建超过 olderThan 仍未结算的交易
func (l *Ledger) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Transaction, error) {
	return l.txnRepo.GetStalePending(ctx, time.Now().Add(-olderThan), limit)
}
