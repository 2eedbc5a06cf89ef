package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"bonusledger/internal/config"
	"bonusledger/internal/infrastructure/lock"
	"bonusledger/internal/model"
	"bonusledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ============================================================
// 测试环境
// ============================================================

var testDBSeq int64

// newTestDB 打开内存 SQLite
// 用 cache=shared + 单连接，保证多个 goroutine 看到同一个库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Transaction{},
		&model.Reward{},
		&model.GroupSettings{},
		&model.OutboxMessage{},
	))

	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				LedgerEvents: "ledger.test",
				RewardEvents: "reward.test",
			},
		},
		Business: config.BusinessConfig{
			LockWaitMS:    2000,
			CASMaxRetries: 3,
			MaxRetryCount: 3,
		},
	}
}

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	locker   lock.Locker
	ledger   *LedgerService
	redeem   *RedeemService
	adjust   *AdjustService
	account  *AccountService
	reward   *RewardService
	settings *SettingsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	cfg := newTestConfig()
	locker := lock.NewLocalLocker()
	ledger := NewLedgerService(db, locker, cfg)

	return &testEnv{
		db:       db,
		cfg:      cfg,
		locker:   locker,
		ledger:   ledger,
		redeem:   NewRedeemService(db, locker, cfg, ledger),
		adjust:   NewAdjustService(ledger),
		account:  NewAccountService(db),
		reward:   NewRewardService(db, locker, cfg),
		settings: NewSettingsService(db),
	}
}

// seedAccount 建账户并通过记账通道充值，保证流水合计和余额一致
func (e *testEnv) seedAccount(t *testing.T, userID, groupID int64, balance decimal.Decimal) *model.Account {
	t.Helper()
	ctx := context.Background()

	account, err := e.account.GetOrCreate(ctx, userID, groupID)
	require.NoError(t, err)

	if !balance.IsZero() {
		_, err = e.ledger.PostTransaction(ctx, &PostRequest{
			AccountID:   account.ID,
			Kind:        model.KindInitialBalance,
			Amount:      balance,
			Description: "期初余额",
			ActorID:     userID,
		})
		require.NoError(t, err)
	}

	fresh, err := e.account.GetByID(ctx, account.ID)
	require.NoError(t, err)
	return fresh
}

// seedReward 建一个奖励
func (e *testEnv) seedReward(t *testing.T, groupID int64, cost decimal.Decimal, stock *int, maxPerUser *int) *model.Reward {
	t.Helper()

	reward, err := e.reward.Create(context.Background(), &CreateRewardRequest{
		GroupID:        groupID,
		Name:           "测试奖励",
		Cost:           cost,
		StockRemaining: stock,
		MaxPerUser:     maxPerUser,
	})
	require.NoError(t, err)
	return reward
}

// seedDebtPolicy 配置小组负债策略
func (e *testEnv) seedDebtPolicy(t *testing.T, groupID int64, allowNegative bool, maxDebt *decimal.Decimal) {
	t.Helper()

	err := e.settings.Upsert(context.Background(), &UpsertRequest{
		GroupID:              groupID,
		AllowNegativeBalance: allowNegative,
		MaxDebt:              maxDebt,
	})
	require.NoError(t, err)
}

func (e *testEnv) balanceOf(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()

	balance, err := e.account.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return balance
}

func (e *testEnv) stockOf(t *testing.T, rewardID int64) *int {
	t.Helper()

	reward, err := repository.NewRewardRepository(e.db).GetByID(context.Background(), rewardID)
	require.NoError(t, err)
	return reward.StockRemaining
}

func intPtr(n int) *int { return &n }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
