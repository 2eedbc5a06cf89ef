package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bonusledger/internal/config"
	"bonusledger/internal/infrastructure/lock"
	"bonusledger/internal/model"
	"bonusledger/internal/repository"
	"bonusledger/pkg/idgen"

	"gorm.io/gorm"
)

// RedeemService 奖励兑换编排
//
// 【为什么这里是全系统最容易出错的路径？】
//
// 兑换要同时动两个资源：奖励库存和账户余额。
// 两者分属不同聚合，不能放进同一个物理事务
// （库存扣减在 reward 行上，余额扣减在 account + 流水上，
// 各自有独立的锁和独立的提交点），所以采用 Saga：
//
//	1. 先条件扣减库存（占住这一件）
//	2. 再通过 LedgerService 扣积分
//	3. 扣积分失败 -> 回补库存，把原始错误抛给调用方
//
// 必须保证：扣款失败不会永久丢库存；
// 最后一件库存在并发下只会被一个人兑走
type RedeemService struct {
	db              *gorm.DB
	locker          lock.Locker
	cfg             *config.Config
	ledger          *LedgerService
	rewardRepo      *repository.RewardRepository
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	settingsRepo    *repository.SettingsRepository
	outboxRepo      *repository.OutboxRepository
}

func NewRedeemService(db *gorm.DB, locker lock.Locker, cfg *config.Config, ledger *LedgerService) *RedeemService {
	return &RedeemService{
		db:              db,
		locker:          locker,
		cfg:             cfg,
		ledger:          ledger,
		rewardRepo:      repository.NewRewardRepository(db),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		settingsRepo:    repository.NewSettingsRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// RedeemRequest 兑换请求
type RedeemRequest struct {
	RewardID  int64
	UserID    int64
	GroupID   int64
	RequestID string // 幂等ID，客户端生成；超时重试必须带同一个ID
}

// Redeem 用积分兑换奖励
func (s *RedeemService) Redeem(ctx context.Context, req *RedeemRequest) (*model.Transaction, error) {
	reward, err := s.rewardRepo.GetByID(ctx, req.RewardID)
	if err != nil {
		return nil, err
	}
	if reward.GroupID != req.GroupID {
		return nil, ErrRewardGroupMismatch
	}

	currencyCode, err := s.settingsRepo.GetCurrencyCode(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("读取小组币种失败: %w", err)
	}
	account, err := s.accountRepo.GetOrCreate(ctx, req.UserID, req.GroupID, currencyCode)
	if err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	// 幂等预检必须先于库存/上架校验：
	// 首次兑换可能已经兑走了最后一件，或者奖励随后被下架，
	// 超时重试的客户端此时仍要拿到首次的流水，而不是"已兑完/已下架"
	idemKey := ""
	if req.RequestID != "" {
		idemKey = "redeem:" + req.RequestID
		existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, account.ID, idemKey)
		if err != nil {
			return nil, fmt.Errorf("查询幂等流水失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if !reward.IsActive {
		return nil, ErrRewardInactive
	}
	if reward.StockRemaining != nil && *reward.StockRemaining <= 0 {
		return nil, ErrSoldOut
	}

	// 单人兑换上限
	if reward.MaxPerUser != nil {
		count, err := s.transactionRepo.CountRedemptions(ctx, account.ID, reward.ID)
		if err != nil {
			return nil, fmt.Errorf("查询兑换次数失败: %w", err)
		}
		if count >= int64(*reward.MaxPerUser) {
			return nil, ErrRedemptionLimitReached
		}
	}

	var committed *model.Transaction
	err = s.locker.WithLock(ctx, lock.RewardKey(reward.ID), s.lockWait(), func(ctx context.Context) error {
		// 获取锁后再次检查幂等：
		// 并发重试的另一个请求可能已经在锁内完成了兑换，
		// 不拦住的话这里会把库存多扣一次
		if idemKey != "" {
			existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, account.ID, idemKey)
			if err != nil {
				return fmt.Errorf("查询幂等流水失败: %w", err)
			}
			if existing != nil {
				committed = existing
				return nil
			}
		}

		limited := reward.StockRemaining != nil
		if limited {
			// 条件扣减：stock_remaining > 0 才会更新到行
			// 两个请求抢最后一件时，后提交的一方零行更新，收到 ErrSoldOut
			ok, err := s.rewardRepo.DecrementStock(ctx, reward.ID)
			if err != nil {
				return fmt.Errorf("扣减库存失败: %w", err)
			}
			if !ok {
				return ErrSoldOut
			}
		}

		trans, err := s.ledger.PostTransaction(ctx, &PostRequest{
			AccountID:      account.ID,
			Kind:           model.KindRewardRedemption,
			Amount:         reward.Cost.Neg(),
			Description:    fmt.Sprintf("兑换奖励-%s", reward.Name),
			RelatedType:    model.RelatedTypeReward,
			RelatedID:      reward.ID,
			ActorID:        req.UserID,
			IdempotencyKey: idemKey,
		})
		if err != nil {
			// 补偿：扣积分失败必须把占住的库存还回去
			if limited {
				s.compensateStock(reward.ID)
			}
			return err
		}

		committed = trans
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("兑换成功: rewardID=%d, userID=%d, groupID=%d, cost=%s, transactionNo=%s",
		reward.ID, req.UserID, req.GroupID, reward.Cost.String(), committed.TransactionNo)

	s.emitRedeemedEvent(ctx, reward, req, committed)

	return committed, nil
}

// emitRedeemedEvent 投递兑换成功事件（通知、库存看板等下游消费）
// 记账事件已经在 LedgerService 的事务内保证必达，
// 这条是补充性事件，写入失败只记日志不影响兑换结果
func (s *RedeemService) emitRedeemedEvent(ctx context.Context, reward *model.Reward, req *RedeemRequest, trans *model.Transaction) {
	payload := map[string]interface{}{
		"redemption_no":  idgen.GenerateRedemptionNo(),
		"reward_id":      reward.ID,
		"reward_name":    reward.Name,
		"group_id":       req.GroupID,
		"user_id":        req.UserID,
		"cost":           reward.Cost.String(),
		"transaction_no": trans.TransactionNo,
		"redeemed_at":    time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      s.cfg.Kafka.Topic.RewardEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, nil, msg); err != nil {
		log.Printf("写入兑换事件失败: rewardID=%d, transactionNo=%s, err=%v", reward.ID, trans.TransactionNo, err)
	}
}

// compensateStock 回补一件库存
// 用独立的 context：请求本身可能已经超时/被取消，补偿不能跟着一起失败
func (s *RedeemService) compensateStock(rewardID int64) {
	compCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.rewardRepo.IncrementStock(compCtx, rewardID); err != nil {
		// 走到这里说明库存可能永久少了一件，必须人工介入
		log.Printf("[严重] 兑换补偿失败，需要人工修复库存: rewardID=%d, err=%v", rewardID, err)
	}
}

func (s *RedeemService) lockWait() time.Duration {
	if s.cfg.Business.LockWaitMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.cfg.Business.LockWaitMS) * time.Millisecond
}
