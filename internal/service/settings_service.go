package service

import (
	"context"

	"bonusledger/internal/model"
	"bonusledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SettingsService 小组积分配置
type SettingsService struct {
	settingsRepo *repository.SettingsRepository
}

func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{settingsRepo: repository.NewSettingsRepository(db)}
}

func (s *SettingsService) GetDebtPolicy(ctx context.Context, groupID int64) (*model.DebtPolicy, error) {
	return s.settingsRepo.GetDebtPolicy(ctx, groupID)
}

// UpsertRequest 配置写入请求
type UpsertRequest struct {
	GroupID              int64
	CurrencyCode         string
	AllowNegativeBalance bool
	MaxDebt              *decimal.Decimal
}

func (s *SettingsService) Upsert(ctx context.Context, req *UpsertRequest) error {
	currency := req.CurrencyCode
	if currency == "" {
		currency = model.DefaultCurrencyCode
	}
	if req.MaxDebt != nil && req.MaxDebt.IsNegative() {
		return ErrInvalidAmount
	}

	return s.settingsRepo.Upsert(ctx, &model.GroupSettings{
		GroupID:              req.GroupID,
		CurrencyCode:         currency,
		AllowNegativeBalance: req.AllowNegativeBalance,
		MaxDebt:              req.MaxDebt,
	})
}
