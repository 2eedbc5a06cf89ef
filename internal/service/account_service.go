package service

import (
	"context"

	"bonusledger/internal/model"
	"bonusledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountService 账户查询与按需创建
// 只负责账户的存在性，不承载任何记账规则
type AccountService struct {
	db           *gorm.DB
	accountRepo  *repository.AccountRepository
	settingsRepo *repository.SettingsRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		db:           db,
		accountRepo:  repository.NewAccountRepository(db),
		settingsRepo: repository.NewSettingsRepository(db),
	}
}

// GetOrCreate 获取成员在小组内的账户，首笔业务发生时自动创建
// 币种取小组配置，未配置时用默认币种
func (s *AccountService) GetOrCreate(ctx context.Context, userID, groupID int64) (*model.Account, error) {
	currencyCode, err := s.settingsRepo.GetCurrencyCode(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.accountRepo.GetOrCreate(ctx, userID, groupID, currencyCode)
}

func (s *AccountService) GetByID(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, accountID)
}

// GetBalance 查询账户余额（只读，不加锁）
func (s *AccountService) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}
