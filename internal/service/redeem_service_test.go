package service

import (
	"context"
	"sync"
	"testing"

	"bonusledger/internal/model"
	"bonusledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// 兑换基本路径
// ============================================================

func TestRedeem_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("40"), intPtr(5), nil)

	trans, err := env.redeem.Redeem(ctx, &RedeemRequest{
		RewardID:  reward.ID,
		UserID:    1,
		GroupID:   100,
		RequestID: "r1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.KindRewardRedemption, trans.Kind)
	assert.True(t, trans.Amount.Equal(dec("-40")))
	assert.Equal(t, model.RelatedTypeReward, trans.RelatedType)
	assert.Equal(t, reward.ID, trans.RelatedID)
	assert.True(t, trans.BalanceAfter.Equal(dec("60")))

	stock := env.stockOf(t, reward.ID)
	require.NotNil(t, stock)
	assert.Equal(t, 4, *stock)
}

func TestRedeem_UnlimitedStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("10"), nil, nil)

	for i := 0; i < 3; i++ {
		_, err := env.redeem.Redeem(ctx, &RedeemRequest{
			RewardID: reward.ID,
			UserID:   1,
			GroupID:  100,
		})
		require.NoError(t, err)
	}

	assert.Nil(t, env.stockOf(t, reward.ID))
	assert.True(t, env.balanceOf(t, account.ID).Equal(dec("70")))
}

// ============================================================
// 校验与拒绝
// ============================================================

func TestRedeem_Inactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("10"), intPtr(1), nil)
	require.NoError(t, env.reward.Deactivate(ctx, reward.ID))

	_, err := env.redeem.Redeem(ctx, &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100})
	assert.ErrorIs(t, err, ErrRewardInactive)
}

func TestRedeem_GroupMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 200, dec("10"), nil, nil)

	_, err := env.redeem.Redeem(context.Background(), &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100})
	assert.ErrorIs(t, err, ErrRewardGroupMismatch)
}

func TestRedeem_RewardNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.redeem.Redeem(context.Background(), &RedeemRequest{RewardID: 99999, UserID: 1, GroupID: 100})
	assert.ErrorIs(t, err, repository.ErrRewardNotFound)
}

func TestRedeem_SoldOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("10"), intPtr(0), nil)

	_, err := env.redeem.Redeem(ctx, &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100})
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestRedeem_MaxPerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("10"), nil, intPtr(2))

	for i := 0; i < 2; i++ {
		_, err := env.redeem.Redeem(ctx, &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100})
		require.NoError(t, err)
	}

	_, err := env.redeem.Redeem(ctx, &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100})
	assert.ErrorIs(t, err, ErrRedemptionLimitReached)
	assert.True(t, env.balanceOf(t, account.ID).Equal(dec("80")), "上限后的请求不应扣款")
}

// ============================================================
// 补偿
// ============================================================

func TestRedeem_CompensatesStockOnInsufficientFunds(t *testing.T) {
	// 扣库存成功、扣积分失败 -> 库存必须回到原值
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 1, 100, dec("10"))
	reward := env.seedReward(t, 100, dec("50"), intPtr(3), nil)

	_, err := env.redeem.Redeem(ctx, &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	stock := env.stockOf(t, reward.ID)
	require.NotNil(t, stock)
	assert.Equal(t, 3, *stock, "扣款失败后库存不应减少")
	assert.True(t, env.balanceOf(t, account.ID).Equal(dec("10")))
}

// ============================================================
// 幂等性
// ============================================================

func TestRedeem_IdempotentReplay(t *testing.T) {
	// 同一 request_id 重试：返回同一笔流水，库存和余额只变一次
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("40"), intPtr(5), nil)

	req := &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100, RequestID: "r1"}

	first, err := env.redeem.Redeem(ctx, req)
	require.NoError(t, err)

	second, err := env.redeem.Redeem(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, env.balanceOf(t, account.ID).Equal(dec("60")))

	stock := env.stockOf(t, reward.ID)
	require.NotNil(t, stock)
	assert.Equal(t, 4, *stock, "重试不应再扣库存")
}

func TestRedeem_ReplayAfterLastUnit(t *testing.T) {
	// 首次兑换兑走最后一件，超时重试同一 request_id：
	// 必须返回首次的流水，不能因为库存已空报"已兑完"
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("40"), intPtr(1), nil)

	req := &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100, RequestID: "r1"}

	first, err := env.redeem.Redeem(ctx, req)
	require.NoError(t, err)

	second, err := env.redeem.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stock := env.stockOf(t, reward.ID)
	require.NotNil(t, stock)
	assert.Equal(t, 0, *stock)
	assert.True(t, env.balanceOf(t, account.ID).Equal(dec("60")), "余额只应扣一次")
}

func TestRedeem_ReplayAfterDeactivation(t *testing.T) {
	// 兑换成功后奖励被下架，重试仍要拿到首次的流水
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, 1, 100, dec("100"))
	reward := env.seedReward(t, 100, dec("40"), intPtr(5), nil)

	req := &RedeemRequest{RewardID: reward.ID, UserID: 1, GroupID: 100, RequestID: "r1"}

	first, err := env.redeem.Redeem(ctx, req)
	require.NoError(t, err)
	require.NoError(t, env.reward.Deactivate(ctx, reward.ID))

	second, err := env.redeem.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, env.balanceOf(t, account.ID).Equal(dec("60")))
}

// ============================================================
// 并发：最后一件库存
// ============================================================

func TestRedeem_ConcurrentLastUnit(t *testing.T) {
	// 库存1，两个成员并发兑换：恰好一人成功、一人售罄，库存归零
	env := newTestEnv(t)
	ctx := context.Background()
	accounts := map[int64]int64{
		1: env.seedAccount(t, 1, 100, dec("100")).ID,
		2: env.seedAccount(t, 2, 100, dec("100")).ID,
	}
	reward := env.seedReward(t, 100, dec("50"), intPtr(1), nil)

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			_, err := env.redeem.Redeem(ctx, &RedeemRequest{
				RewardID: reward.ID,
				UserID:   userID,
				GroupID:  100,
			})
			results[i] = err
		}(i, userID)
	}
	wg.Wait()

	succeeded, soldOut := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrSoldOut):
			soldOut++
		}
	}
	assert.Equal(t, 1, succeeded, "恰好一人兑换成功")
	assert.Equal(t, 1, soldOut, "另一人收到售罄")

	stock := env.stockOf(t, reward.ID)
	require.NotNil(t, stock)
	assert.Equal(t, 0, *stock)

	// 只有一个账户被扣款
	charged := 0
	for _, accountID := range accounts {
		if env.balanceOf(t, accountID).Equal(dec("50")) {
			charged++
		}
	}
	assert.Equal(t, 1, charged)
}
