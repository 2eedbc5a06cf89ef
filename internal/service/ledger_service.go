package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bonusledger/internal/config"
	"bonusledger/internal/infrastructure/lock"
	"bonusledger/internal/model"
	"bonusledger/internal/repository"
	"bonusledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerService 记账核心
// 账户余额和流水的唯一写入口：
// 余额更新、流水写入、事件落库在同一个数据库事务内完成，
// 要么全部生效，要么全部回滚，外部永远观察不到中间状态
type LedgerService struct {
	db              *gorm.DB
	locker          lock.Locker
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	settingsRepo    *repository.SettingsRepository
	outboxRepo      *repository.OutboxRepository
}

func NewLedgerService(db *gorm.DB, locker lock.Locker, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		locker:          locker,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		settingsRepo:    repository.NewSettingsRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// PostRequest 记账请求
type PostRequest struct {
	AccountID      int64
	Kind           string
	Amount         decimal.Decimal // 正数入账，负数出账
	Description    string
	RelatedType    string
	RelatedID      int64
	ActorID        int64
	IdempotencyKey string // 空串表示不启用幂等
}

// PostTransaction 记一笔账
//
// 【关键点】整个系统里只有这一条路径能修改余额，需要保证：
// 1. 幂等性：相同的 idempotency_key 只会入账一次，重试返回首次的流水
// 2. 负债策略：出账不得使余额越过小组配置的下限
// 3. 原子性：余额更新、流水写入、事件落库同事务提交
// 4. 并发安全：进程内按 account:{id} 加锁，跨副本靠版本号 CAS 兜底
func (s *LedgerService) PostTransaction(ctx context.Context, req *PostRequest) (*model.Transaction, error) {
	if req.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if !model.IsValidKind(req.Kind) {
		return nil, ErrInvalidKind
	}

	// 幂等预检（锁外快速路径）
	if req.IdempotencyKey != "" {
		existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("查询幂等流水失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	var committed *model.Transaction
	err := s.locker.WithLock(ctx, lock.AccountKey(req.AccountID), s.lockWait(), func(ctx context.Context) error {
		// 获取锁后再次检查幂等
		if req.IdempotencyKey != "" {
			existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("查询幂等流水失败: %w", err)
			}
			if existing != nil {
				committed = existing
				return nil
			}
		}
		return s.postLocked(ctx, req, &committed)
	})
	if err != nil {
		return nil, err
	}

	return committed, nil
}

// postLocked 持有账户锁后的记账主体
// CAS 冲突只会来自其他副本，带退避重试有限次后以 ErrBusy 上抛
func (s *LedgerService) postLocked(ctx context.Context, req *PostRequest, out **model.Transaction) error {
	maxRetries := s.cfg.Business.CASMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		account, err := s.accountRepo.GetByID(ctx, req.AccountID)
		if err != nil {
			return err
		}

		newBalance := account.Balance.Add(req.Amount)

		// 出账需要校验小组负债策略
		if req.Amount.IsNegative() {
			policy, err := s.settingsRepo.GetDebtPolicy(ctx, account.GroupID)
			if err != nil {
				return fmt.Errorf("读取负债策略失败: %w", err)
			}
			if err := checkDebtPolicy(policy, newBalance); err != nil {
				return err
			}
		}

		trans := &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountID:     account.ID,
			Kind:          req.Kind,
			Amount:        req.Amount,
			BalanceAfter:  newBalance,
			Description:   req.Description,
			RelatedType:   req.RelatedType,
			RelatedID:     req.RelatedID,
			ActorID:       req.ActorID,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			trans.IdempotencyKey = &key
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.accountRepo.ApplyDelta(ctx, tx, account.ID, req.Amount, account.Version); err != nil {
				return err
			}
			if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			if err := s.writeOutboxEvent(ctx, tx, account, trans); err != nil {
				return fmt.Errorf("写入事件失败: %w", err)
			}
			return nil
		})

		if err == nil {
			log.Printf("记账成功: transactionNo=%s, accountID=%d, kind=%s, amount=%s, balanceAfter=%s",
				trans.TransactionNo, account.ID, req.Kind, req.Amount.String(), newBalance.String())
			*out = trans
			return nil
		}

		if errors.Is(err, repository.ErrOptimisticLock) {
			// 其他副本抢先提交，退避后重新读余额再试
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
			}
			continue
		}

		// 幂等键唯一索引冲突：另一副本已提交同键流水，直接返回已有记录
		if req.IdempotencyKey != "" {
			existing, lookupErr := s.transactionRepo.GetByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				*out = existing
				return nil
			}
		}

		return err
	}

	return lock.ErrBusy
}

func (s *LedgerService) writeOutboxEvent(ctx context.Context, tx *gorm.DB, account *model.Account, trans *model.Transaction) error {
	payload := map[string]interface{}{
		"transaction_no": trans.TransactionNo,
		"account_id":     account.ID,
		"owner_user_id":  account.OwnerUserID,
		"group_id":       account.GroupID,
		"kind":           trans.Kind,
		"amount":         trans.Amount.String(),
		"balance_after":  trans.BalanceAfter.String(),
		"related_type":   trans.RelatedType,
		"related_id":     trans.RelatedID,
		"actor_id":       trans.ActorID,
		"committed_at":   time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      s.cfg.Kafka.Topic.LedgerEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return s.outboxRepo.Create(ctx, tx, msg)
}

func (s *LedgerService) lockWait() time.Duration {
	if s.cfg.Business.LockWaitMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.cfg.Business.LockWaitMS) * time.Millisecond
}

// checkDebtPolicy 校验出账后的余额是否触及小组负债下限
func checkDebtPolicy(policy *model.DebtPolicy, newBalance decimal.Decimal) error {
	if newBalance.GreaterThanOrEqual(decimal.Zero) {
		return nil
	}
	if !policy.AllowNegativeBalance {
		return ErrInsufficientFunds
	}
	if policy.MaxDebt != nil && newBalance.LessThan(policy.MaxDebt.Neg()) {
		return ErrDebtLimitExceeded
	}
	return nil
}

// ListTransactions 分页查询账户流水（只读，不加锁）
func (s *LedgerService) ListTransactions(ctx context.Context, accountID int64, kind string, page, pageSize int) ([]*model.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.transactionRepo.ListByAccountID(ctx, accountID, kind, page, pageSize)
}
