package repository

import (
	"context"
	"errors"

	"bonusledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetByGroupID(ctx context.Context, groupID int64) (*model.GroupSettings, error) {
	var settings model.GroupSettings
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

// GetDebtPolicy 读取小组负债策略
// 小组未配置时使用默认策略：不允许负余额
func (r *SettingsRepository) GetDebtPolicy(ctx context.Context, groupID int64) (*model.DebtPolicy, error) {
	settings, err := r.GetByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return &model.DebtPolicy{AllowNegativeBalance: false}, nil
	}
	return &model.DebtPolicy{
		AllowNegativeBalance: settings.AllowNegativeBalance,
		MaxDebt:              settings.MaxDebt,
	}, nil
}

// GetCurrencyCode 读取小组币种，未配置时使用默认币种
func (r *SettingsRepository) GetCurrencyCode(ctx context.Context, groupID int64) (string, error) {
	settings, err := r.GetByGroupID(ctx, groupID)
	if err != nil {
		return "", err
	}
	if settings == nil {
		return model.DefaultCurrencyCode, nil
	}
	return settings.CurrencyCode, nil
}

// Upsert 按小组维度写入配置
func (r *SettingsRepository) Upsert(ctx context.Context, settings *model.GroupSettings) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"currency_code", "allow_negative_balance", "max_debt",
			}),
		}).
		Create(settings).Error
}
