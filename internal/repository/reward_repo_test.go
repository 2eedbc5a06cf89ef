package repository

import (
	"context"
	"testing"

	"bonusledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTestReward(t *testing.T, repo *RewardRepository, stock *int) *model.Reward {
	t.Helper()

	reward := &model.Reward{
		GroupID:        100,
		Name:           "测试奖励",
		Cost:           mustDec("10"),
		StockRemaining: stock,
		IsActive:       true,
	}
	require.NoError(t, repo.Create(context.Background(), reward))
	return reward
}

func TestDecrementStock_StopsAtZero(t *testing.T) {
	db := newTestDB(t)
	repo := NewRewardRepository(db)
	ctx := context.Background()

	stock := 2
	reward := seedTestReward(t, repo, &stock)

	for i := 0; i < 2; i++ {
		ok, err := repo.DecrementStock(ctx, reward.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// 库存归零后零行命中
	ok, err := repo.DecrementStock(ctx, reward.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := repo.GetByID(ctx, reward.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.StockRemaining)
	assert.Equal(t, 0, *fresh.StockRemaining)
}

func TestDecrementStock_UnlimitedIsNoop(t *testing.T) {
	db := newTestDB(t)
	repo := NewRewardRepository(db)

	reward := seedTestReward(t, repo, nil)

	ok, err := repo.DecrementStock(context.Background(), reward.ID)
	require.NoError(t, err)
	assert.False(t, ok, "不限量奖励没有可扣的库存行")
}

func TestIncrementStock_RestoresUnit(t *testing.T) {
	db := newTestDB(t)
	repo := NewRewardRepository(db)
	ctx := context.Background()

	stock := 1
	reward := seedTestReward(t, repo, &stock)

	ok, err := repo.DecrementStock(ctx, reward.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.IncrementStock(ctx, reward.ID))

	fresh, err := repo.GetByID(ctx, reward.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.StockRemaining)
	assert.Equal(t, 1, *fresh.StockRemaining)
}

func TestApplyUpdate_ClearStockLimit(t *testing.T) {
	db := newTestDB(t)
	repo := NewRewardRepository(db)
	ctx := context.Background()

	stock := 5
	reward := seedTestReward(t, repo, &stock)

	// 外层指针非空、内层为空 -> 改为不限量
	var unlimited *int
	require.NoError(t, repo.ApplyUpdate(ctx, reward.ID, &RewardUpdate{StockRemaining: &unlimited}))

	fresh, err := repo.GetByID(ctx, reward.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.StockRemaining)
}

func TestApplyUpdate_MissingReward(t *testing.T) {
	db := newTestDB(t)
	repo := NewRewardRepository(db)

	name := "改名"
	err := repo.ApplyUpdate(context.Background(), 99999, &RewardUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrRewardNotFound)
}
