package service

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"paysettle/internal/config"
	"paysettle/internal/fee"
	"paysettle/internal/gateway"
	"paysettle/internal/infrastructure/database"
	"paysettle/internal/model"
)

const testTopic = "settlement.result"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type fakeGateway struct {
	mu      sync.Mutex
	issueFn func(ctx context.Context, req gateway.CheckoutLinkRequest) (*gateway.CheckoutLink, error)
	checkFn func(ctx context.Context, req gateway.PaymentCheckRequest) (*gateway.PaymentStatus, error)
	issued  []gateway.CheckoutLinkRequest
	checked []gateway.PaymentCheckRequest
}

func (f *fakeGateway) IssueCheckoutLink(ctx context.Context, req gateway.CheckoutLinkRequest) (*gateway.CheckoutLink, error) {
	f.mu.Lock()
	f.issued = append(f.issued, req)
	f.mu.Unlock()
	if f.issueFn != nil {
		return f.issueFn(ctx, req)
	}
	return &gateway.CheckoutLink{
		CheckoutURL: "https://checkout.infinitepay.io/loja/" + req.OrderReference,
		Slug:        "slug-" + req.OrderReference,
	}, nil
}

func (f *fakeGateway) CheckPaymentStatus(ctx context.Context, req gateway.PaymentCheckRequest) (*gateway.PaymentStatus, error) {
	f.mu.Lock()
	f.checked = append(f.checked, req)
	f.mu.Unlock()
	if f.checkFn != nil {
		return f.checkFn(ctx, req)
	}
	return &gateway.PaymentStatus{Success: true}, nil
}

func (f *fakeGateway) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checked)
}

type testEnv struct {
	db         *gorm.DB
	ledger     *Ledger
	gw         *fakeGateway
	settlement *SettlementService
	reconcile  *ReconcileService
}

// newTestEnv CREDIT / CREDIT_INSTALLMENT / PIX 走网关，其余本地结算
func newTestEnv(t *testing.T, locker OrderLocker) *testEnv {
	t.Helper()
	db := newTestDB(t)
	ledger := NewLedger(db, testTopic)
	gw := &fakeGateway{}

	routes := config.SettlementConfig{
		DefaultMode: config.SettlementModeLocal,
		Routes: map[string]string{
			"credit":             config.SettlementModeGateway,
			"credit_installment": config.SettlementModeGateway,
			"pix":                config.SettlementModeGateway,
		},
	}

	return &testEnv{
		db:     db,
		ledger: ledger,
		gw:     gw,
		settlement: NewSettlementService(ledger, routes,
			NewLocalSettlement(fee.NewCalculator()),
			NewGatewaySettlement(gw, 0)),
		reconcile: NewReconcileService(ledger, gw, locker),
	}
}

func (e *testEnv) outboxCount(t *testing.T, aggregateID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.OutboxMessage{}).Where("aggregate_id = ?", aggregateID).Count(&n).Error)
	return n
}

func (e *testEnv) transactionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Transaction{}).Count(&n).Error)
	return n
}

// forceStaleReads 让接下来 n 次交易读取看到 PENDING/version 0 的旧快照，
// 用来模拟读取之后被并发写入抢先提交
func forceStaleReads(t *testing.T, db *gorm.DB, n int32) {
	t.Helper()
	var remaining atomic.Int32
	remaining.Store(n)
	err := db.Callback().Query().After("gorm:query").Register("test:stale_transaction", func(d *gorm.DB) {
		txn, ok := d.Statement.Dest.(*model.Transaction)
		if !ok || d.Error != nil {
			return
		}
		if remaining.Add(-1) < 0 {
			return
		}
		txn.Status = model.TransactionStatusPending
		txn.Version = 0
	})
	require.NoError(t, err)
}

// failTransactionReads 让交易读取直接返回 cause
func failTransactionReads(t *testing.T, db *gorm.DB, cause error) {
	t.Helper()
	err := db.Callback().Query().Before("gorm:query").Register("test:fail_transaction", func(d *gorm.DB) {
		if _, ok := d.Statement.Dest.(*model.Transaction); ok {
			_ = d.AddError(cause)
		}
	})
	require.NoError(t, err)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}
