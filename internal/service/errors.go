package service

import "errors"

// 业务错误
// 策略类错误（余额、库存、上限）返回时保证没有任何部分副作用，
// 调用方可以直接向用户展示具体原因
var (
	ErrInsufficientFunds      = errors.New("积分余额不足")
	ErrDebtLimitExceeded      = errors.New("超出透支上限")
	ErrRewardInactive         = errors.New("奖励已下架")
	ErrSoldOut                = errors.New("奖励已兑完")
	ErrRedemptionLimitReached = errors.New("已达到该奖励的兑换上限")
	ErrRewardGroupMismatch    = errors.New("奖励不属于该小组")

	// 参数校验错误
	ErrInvalidAmount       = errors.New("金额不合法")
	ErrInvalidKind         = errors.New("流水类型不合法")
	ErrInvalidCost         = errors.New("兑换价格必须大于0")
	ErrInvalidStock        = errors.New("库存不能为负")
	ErrInvalidLimit        = errors.New("兑换上限不能为负")
	ErrNameRequired        = errors.New("奖励名称不能为空")
	ErrDescriptionRequired = errors.New("调整说明不能为空")
)
