package repository

import (
	"context"
	"errors"

	"bonusledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 写入一笔流水
// 流水只追加，本仓库不提供任何 Update/Delete 方法
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByIdempotencyKey 按幂等键查询流水，不存在时返回 (nil, nil)
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, accountID int64, key string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByAccountID 分页查询账户流水，kind 为空时不过滤类型
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, kind string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("account_id = ?", accountID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// CountRedemptions 统计某账户对某个奖励已成功兑换的次数
// 用于校验单人兑换上限
func (r *TransactionRepository) CountRedemptions(ctx context.Context, accountID, rewardID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("account_id = ? AND kind = ? AND related_type = ? AND related_id = ?",
			accountID, model.KindRewardRedemption, model.RelatedTypeReward, rewardID).
		Count(&count).Error
	return count, err
}

// SumAmountByAccountID 汇总账户全部流水金额，对账任务用
func (r *TransactionRepository) SumAmountByAccountID(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("account_id = ?", accountID).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}
