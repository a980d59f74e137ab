package service

import (
	"context"
	"fmt"

	"paysettle/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TransactionService 只读查询
type TransactionService struct {
	ledger *Ledger
}

func NewTransactionService(ledger *Ledger) *TransactionService {
	return &TransactionService{ledger: ledger}
}

func (s *TransactionService) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.ledger.FindByID(ctx, id)
}

func (s *TransactionService) GetByOrderReference(ctx context.Context, orderReference string) (*model.Transaction, error) {
	txn, err := s.ledger.FindByOrderReference(ctx, orderReference)
	if err != nil {
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}
	if txn == nil {
		return nil, ErrNotFound
	}
	return txn, nil
}

// List page 从 1 开始，page_size 超出范围时取默认值/上限
func (s *TransactionService) List(ctx context.Context, page, pageSize int) ([]*model.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.ledger.List(ctx, page, pageSize)
}
