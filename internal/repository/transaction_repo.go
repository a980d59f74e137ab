package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"paysettle/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound     = errors.New("交易不存在")
	ErrInvalidTransition       = errors.New("交易状态流转不合法")
	ErrDuplicateOrderReference = errors.New("订单追踪号重复")
	ErrVersionConflict         = errors.New("交易已被并发修改")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

// Create 写入交易（连同卡信息），order_reference 冲突时返回 ErrDuplicateOrderReference
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateOrderReference
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

// GetByIDTx 在给定事务内读取
func (r *TransactionRepository) GetByIDTx(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var t model.Transaction
	err := tx.WithContext(ctx).Preload("Card").Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetByOrderReference 未找到返回 (nil, nil)
func (r *TransactionRepository) GetByOrderReference(ctx context.Context, orderReference string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Preload("Card").Where("order_reference = ?", orderReference).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) ExistsOrderReference(ctx context.Context, orderReference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("order_reference = ?", orderReference).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatus 乐观锁更新状态
// WHERE id = ? AND status = ? AND version = ?，影响行数为 0 说明被并发修改
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus string, version int, toStatus string, fields map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}
	if tx == nil {
		tx = r.db
	}

	updates := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = toStatus
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now()

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ? AND version = ?", id, fromStatus, version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *TransactionRepository) List(ctx context.Context, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Card").
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// GetStalePending 查询创建时间早于 before 仍为 PENDING 的网关交易
func (r *TransactionRepository) GetStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TransactionStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
