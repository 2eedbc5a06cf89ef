package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reward 奖励目录表
// 小组内可用积分兑换的奖励项
//
// 【重要】库存原则：
// stock_remaining 为 NULL 表示不限量
// 非 NULL 时永远不允许为负，扣减必须走条件更新（stock_remaining > 0）
// 库存只能由 RedeemService 在兑换/补偿流程中扣减和回补
type Reward struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID        int64           `gorm:"index;not null" json:"group_id"`
	Name           string          `gorm:"type:varchar(128);not null" json:"name"`
	Cost           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cost"` // 兑换所需积分，必须大于0
	StockRemaining *int            `json:"stock_remaining"`                         // 剩余库存，NULL=不限量
	MaxPerUser     *int            `json:"max_per_user"`                            // 单人兑换上限，NULL=不限
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reward) TableName() string {
	return "reward"
}
