package service

import (
	"context"
	"strings"
	"time"

	"bonusledger/internal/config"
	"bonusledger/internal/infrastructure/lock"
	"bonusledger/internal/model"
	"bonusledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RewardService 奖励目录管理
// 创建/修改/下架由小组管理员发起；
// 修改走 reward:{id} 锁，避开正在进行的兑换
type RewardService struct {
	db         *gorm.DB
	locker     lock.Locker
	cfg        *config.Config
	rewardRepo *repository.RewardRepository
}

func NewRewardService(db *gorm.DB, locker lock.Locker, cfg *config.Config) *RewardService {
	return &RewardService{
		db:         db,
		locker:     locker,
		cfg:        cfg,
		rewardRepo: repository.NewRewardRepository(db),
	}
}

// CreateRewardRequest 创建奖励请求
type CreateRewardRequest struct {
	GroupID        int64
	Name           string
	Cost           decimal.Decimal
	StockRemaining *int // nil=不限量
	MaxPerUser     *int // nil=不限
}

func (s *RewardService) Create(ctx context.Context, req *CreateRewardRequest) (*model.Reward, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrNameRequired
	}
	if !req.Cost.IsPositive() {
		return nil, ErrInvalidCost
	}
	if req.StockRemaining != nil && *req.StockRemaining < 0 {
		return nil, ErrInvalidStock
	}
	if req.MaxPerUser != nil && *req.MaxPerUser < 0 {
		return nil, ErrInvalidLimit
	}

	reward := &model.Reward{
		GroupID:        req.GroupID,
		Name:           req.Name,
		Cost:           req.Cost,
		StockRemaining: req.StockRemaining,
		MaxPerUser:     req.MaxPerUser,
		IsActive:       true,
	}
	if err := s.rewardRepo.Create(ctx, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// Update 部分更新奖励（含补货）
// 在 reward:{id} 锁内执行，保证不会和兑换的库存扣减交错
func (s *RewardService) Update(ctx context.Context, rewardID int64, upd *repository.RewardUpdate) error {
	if upd.Cost != nil && !upd.Cost.IsPositive() {
		return ErrInvalidCost
	}
	// 补货量不得为负，管理端写入同样要守住库存非负
	if upd.StockRemaining != nil && *upd.StockRemaining != nil && **upd.StockRemaining < 0 {
		return ErrInvalidStock
	}
	if upd.MaxPerUser != nil && *upd.MaxPerUser != nil && **upd.MaxPerUser < 0 {
		return ErrInvalidLimit
	}

	return s.locker.WithLock(ctx, lock.RewardKey(rewardID), s.lockWait(), func(ctx context.Context) error {
		return s.rewardRepo.ApplyUpdate(ctx, rewardID, upd)
	})
}

// Deactivate 下架奖励（不删除，历史兑换流水仍然指向它）
func (s *RewardService) Deactivate(ctx context.Context, rewardID int64) error {
	inactive := false
	return s.Update(ctx, rewardID, &repository.RewardUpdate{IsActive: &inactive})
}

func (s *RewardService) Get(ctx context.Context, rewardID int64) (*model.Reward, error) {
	return s.rewardRepo.GetByID(ctx, rewardID)
}

// List 分页查询小组奖励目录（只读，不加锁）
func (s *RewardService) List(ctx context.Context, groupID int64, onlyActive bool, page, pageSize int) ([]*model.Reward, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.rewardRepo.ListByGroupID(ctx, groupID, onlyActive, page, pageSize)
}

func (s *RewardService) lockWait() time.Duration {
	if s.cfg.Business.LockWaitMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.cfg.Business.LockWaitMS) * time.Millisecond
}
