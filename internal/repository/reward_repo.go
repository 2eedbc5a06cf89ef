package repository

import (
	"context"
	"errors"

	"bonusledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrRewardNotFound = errors.New("奖励不存在")

type RewardRepository struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) Create(ctx context.Context, reward *model.Reward) error {
	return r.db.WithContext(ctx).Create(reward).Error
}

func (r *RewardRepository) GetByID(ctx context.Context, rewardID int64) (*model.Reward, error) {
	var reward model.Reward
	err := r.db.WithContext(ctx).Where("id = ?", rewardID).First(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return &reward, nil
}

// RewardUpdate 奖励部分更新输入
// 所有可选字段用指针显式表达"是否更新"，不使用松散的 map
type RewardUpdate struct {
	Name           *string
	Cost           *decimal.Decimal
	StockRemaining **int // 外层指针=是否更新，内层指针=是否限量
	MaxPerUser     **int
	IsActive       *bool
}

// ApplyUpdate 应用部分更新，逐字段显式展开
func (r *RewardRepository) ApplyUpdate(ctx context.Context, rewardID int64, upd *RewardUpdate) error {
	updates := map[string]interface{}{}
	if upd.Name != nil {
		updates["name"] = *upd.Name
	}
	if upd.Cost != nil {
		updates["cost"] = *upd.Cost
	}
	if upd.StockRemaining != nil {
		updates["stock_remaining"] = *upd.StockRemaining
	}
	if upd.MaxPerUser != nil {
		updates["max_per_user"] = *upd.MaxPerUser
	}
	if upd.IsActive != nil {
		updates["is_active"] = *upd.IsActive
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.Reward{}).
		Where("id = ?", rewardID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRewardNotFound
	}
	return nil
}

// DecrementStock 条件扣减库存
//
// 【关键点】UPDATE ... WHERE stock_remaining > 0
// 扣减和判空在一条语句里原子完成，返回 false 表示库存已空，
// 即使两个副本同时扣最后一件，也只会有一方成功
func (r *RewardRepository) DecrementStock(ctx context.Context, rewardID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Reward{}).
		Where("id = ? AND stock_remaining IS NOT NULL AND stock_remaining > 0", rewardID).
		Update("stock_remaining", gorm.Expr("stock_remaining - 1"))

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IncrementStock 回补库存（兑换补偿专用）
func (r *RewardRepository) IncrementStock(ctx context.Context, rewardID int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Reward{}).
		Where("id = ? AND stock_remaining IS NOT NULL", rewardID).
		Update("stock_remaining", gorm.Expr("stock_remaining + 1"))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRewardNotFound
	}
	return nil
}

// ListByGroupID 分页查询小组奖励目录
func (r *RewardRepository) ListByGroupID(ctx context.Context, groupID int64, onlyActive bool, page, pageSize int) ([]*model.Reward, int64, error) {
	var rewards []*model.Reward
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Reward{}).Where("group_id = ?", groupID)
	if onlyActive {
		query = query.Where("is_active = ?", true)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rewards).Error

	return rewards, total, err
}
