package repository

import (
	"context"
	"errors"

	"bonusledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("账户不存在")
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, accountID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByKey(ctx context.Context, userID, groupID int64, currencyCode string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("owner_user_id = ? AND group_id = ? AND currency_code = ?", userID, groupID, currencyCode).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 获取账户，不存在则创建（幂等）
//
// 【关键点】并发创建同一 (成员, 小组, 币种) 账户时，
// 依赖唯一索引 + OnConflict DoNothing 保证只会创建一条记录，
// 插入冲突的一方回退为查询
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID, groupID int64, currencyCode string) (*model.Account, error) {
	account, err := r.GetByKey(ctx, userID, groupID, currencyCode)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		OwnerUserID:  userID,
		GroupID:      groupID,
		CurrencyCode: currencyCode,
		Balance:      decimal.Zero,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "owner_user_id"},
				{Name: "group_id"},
				{Name: "currency_code"},
			},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByKey(ctx, userID, groupID, currencyCode)
}

// ListAfterID 按主键顺序批量扫描账户，对账任务用
func (r *AccountRepository) ListAfterID(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// ApplyDelta 按版本号 CAS 更新余额
//
// 【关键点】条件更新 WHERE id = ? AND version = ?
// 即使进程内锁失效（例如多副本部署时锁被旁路），
// 版本号不匹配也会导致零行更新，不会出现覆盖写
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID int64, delta decimal.Decimal, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", accountID, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, accountID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	return nil
}
