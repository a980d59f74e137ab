package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysettle/internal/model"
)

func newPending(ref string) *model.Transaction {
	return &model.Transaction{
		OrderReference: ref,
		Amount:         5000,
		PaymentType:    model.PaymentTypeCredit,
		Installments:   3,
		SettlementMode: model.SettlementModeGateway,
		Status:         model.TransactionStatusPending,
	}
}

func TestLedger_CreateWritesOutboxEvent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db, testTopic)
	ctx := context.Background()

	txn := newPending("ORD-1-000001")
	require.NoError(t, ledger.Create(ctx, txn))
	assert.NotZero(t, txn.ID)

	var msgs []model.OutboxMessage
	require.NoError(t, db.Where("aggregate_id = ?", txn.ID).Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.SettlementEventCreated, msgs[0].EventType)
	assert.Equal(t, "ORD-1-000001", msgs[0].MessageKey)
	assert.Equal(t, testTopic, msgs[0].Topic)

	var event model.SettlementEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &event))
	assert.Equal(t, model.TransactionStatusPending, event.Status)
	assert.Equal(t, txn.ID, event.TransactionID)
}

func TestLedger_CreateWithoutTopicSkipsOutbox(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db, "")

	require.NoError(t, ledger.Create(context.Background(), newPending("ORD-1-000002")))

	var n int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestLedger_CreateRejectsNonEntryStatus(t *testing.T) {
	ledger := NewLedger(newTestDB(t), testTopic)

	txn := newPending("ORD-1-000003")
	txn.Status = model.TransactionStatusDenied
	err := ledger.Create(context.Background(), txn)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLedger_Transition(t *testing.T) {
	ledger := NewLedger(newTestDB(t), testTopic)
	ctx := context.Background()

	txn := newPending("ORD-1-000004")
	require.NoError(t, ledger.Create(ctx, txn))

	net := int64(4700)
	updated, changed, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusApproved, TransitionFields{
		NetAmount:  &net,
		ReceiptURL: "https://receipt/4",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.TransactionStatusApproved, updated.Status)
	require.NotNil(t, updated.NetAmount)
	assert.EqualValues(t, 4700, *updated.NetAmount)
	assert.Equal(t, "https://receipt/4", updated.ReceiptURL)
	assert.Equal(t, txn.Version+1, updated.Version)

	// 终态重复通知：空操作
	again, changed, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusApproved, TransitionFields{ReceiptURL: "https://other"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "https://receipt/4", again.ReceiptURL)
	assert.Equal(t, updated.Version, again.Version)

	// 终态之间不可互转
	current, changed, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusDenied, TransitionFields{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, changed)
	require.NotNil(t, current)
	assert.Equal(t, model.TransactionStatusApproved, current.Status)

	_, _, err = ledger.Transition(ctx, txn.ID, model.TransactionStatusPending, TransitionFields{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLedger_PendingCannotBeDeclined(t *testing.T) {
	ledger := NewLedger(newTestDB(t), testTopic)
	ctx := context.Background()

	txn := newPending("ORD-1-000005")
	require.NoError(t, ledger.Create(ctx, txn))

	logs := captureLog(t)
	_, _, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusDeclined, TransitionFields{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, logs.String(), "ERROR 非法状态流转")

	got, err := ledger.FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, got.Status)
}

func TestLedger_FindByIDNotFound(t *testing.T) {
	ledger := NewLedger(newTestDB(t), testTopic)
	_, err := ledger.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_ConcurrentTransitionsFirstWriterWins(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db, testTopic)
	ctx := context.Background()

	txn := newPending("ORD-1-000006")
	require.NoError(t, ledger.Create(ctx, txn))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		hardError int
	)
	for i := 0; i < 16; i++ {
		target := model.TransactionStatusApproved
		if i%2 == 1 {
			target = model.TransactionStatusDenied
		}
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			_, changed, err := ledger.Transition(ctx, txn.ID, target, TransitionFields{})
			mu.Lock()
			defer mu.Unlock()
			if changed {
				applied++
			}
			if err != nil && !assert.ErrorIs(t, err, ErrInvalidTransition) {
				hardError++
			}
		}(target)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Zero(t, hardError)

	got, err := ledger.FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, model.IsTerminalStatus(got.Status))

	var n int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("aggregate_id = ?", txn.ID).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestLedger_StaleReadSameTerminalIsNoop(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db, testTopic)
	ctx := context.Background()

	txn := newPending("ORD-1-000008")
	require.NoError(t, ledger.Create(ctx, txn))
	_, changed, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusApproved, TransitionFields{})
	require.NoError(t, err)
	require.True(t, changed)

	// 读到 PENDING/v0 后提交失败，重读发现已是 APPROVED
	forceStaleReads(t, db, 1)
	logs := captureLog(t)

	got, changed, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusApproved, TransitionFields{ReceiptURL: "https://late"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.TransactionStatusApproved, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.Empty(t, got.ReceiptURL)
	assert.Contains(t, logs.String(), "乐观锁冲突")

	var n int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("aggregate_id = ?", txn.ID).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestLedger_StaleReadOtherTerminalIsSuperseded(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db, testTopic)
	ctx := context.Background()

	txn := newPending("ORD-1-000009")
	require.NoError(t, ledger.Create(ctx, txn))
	_, _, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusApproved, TransitionFields{})
	require.NoError(t, err)

	forceStaleReads(t, db, 1)
	logs := captureLog(t)

	got, changed, err := ledger.Transition(ctx, txn.ID, model.TransactionStatusDenied, TransitionFields{FailureReason: "denied"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, changed)
	require.NotNil(t, got)
	assert.Equal(t, model.TransactionStatusApproved, got.Status)
	assert.Contains(t, logs.String(), "乐观锁冲突")
	assert.Contains(t, logs.String(), "放弃流转")
	assert.NotContains(t, logs.String(), "ERROR")
}

func TestLedger_ListStalePending(t *testing.T) {
	ledger := NewLedger(newTestDB(t), testTopic)
	ctx := context.Background()

	require.NoError(t, ledger.Create(ctx, newPending("ORD-1-000007")))

	stale, err := ledger.ListStalePending(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	stale, err = ledger.ListStalePending(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
