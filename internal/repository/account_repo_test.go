package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"bonusledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var repoTestDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", atomic.AddInt64(&repoTestDBSeq, 1))
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

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAccountGetOrCreate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, 1, 100, "PTS")
	require.NoError(t, err)
	assert.True(t, first.Balance.IsZero())

	second, err := repo.GetOrCreate(ctx, 1, 100, "PTS")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&model.Account{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAccountGetOrCreate_DistinctKeys(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	a, err := repo.GetOrCreate(ctx, 1, 100, "PTS")
	require.NoError(t, err)
	b, err := repo.GetOrCreate(ctx, 1, 200, "PTS")
	require.NoError(t, err)
	c, err := repo.GetOrCreate(ctx, 2, 100, "PTS")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestAccountGetOrCreate_Concurrent(t *testing.T) {
	// 并发首次创建同一账户：唯一索引兜底，只落一行
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account, err := repo.GetOrCreate(ctx, 7, 700, "PTS")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = account.ID
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, db.Model(&model.Account{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyDelta_UpdatesBalanceAndVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	account, err := repo.GetOrCreate(ctx, 1, 100, "PTS")
	require.NoError(t, err)

	require.NoError(t, repo.ApplyDelta(ctx, nil, account.ID, mustDec("30"), account.Version))

	fresh, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Balance.Equal(mustDec("30")))
	assert.Equal(t, account.Version+1, fresh.Version)
}

func TestApplyDelta_StaleVersionRejected(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	account, err := repo.GetOrCreate(ctx, 1, 100, "PTS")
	require.NoError(t, err)

	require.NoError(t, repo.ApplyDelta(ctx, nil, account.ID, mustDec("30"), account.Version))

	// 用旧版本号再更新一次：零行命中，报乐观锁冲突
	err = repo.ApplyDelta(ctx, nil, account.ID, mustDec("30"), account.Version)
	assert.ErrorIs(t, err, ErrOptimisticLock)

	fresh, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Balance.Equal(mustDec("30")), "冲突的更新不应落库")
}

func TestApplyDelta_MissingAccount(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	err := repo.ApplyDelta(context.Background(), nil, 99999, mustDec("1"), 0)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
