package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 小组默认币种（未配置时使用）
const DefaultCurrencyCode = "PTS"

// GroupSettings 小组积分配置表
// 负债策略由小组管理员配置，记账时由 LedgerService 读取
type GroupSettings struct {
	ID                   int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID              int64            `gorm:"uniqueIndex;not null" json:"group_id"`
	CurrencyCode         string           `gorm:"type:varchar(16);not null;default:PTS" json:"currency_code"`
	AllowNegativeBalance bool             `gorm:"not null;default:false" json:"allow_negative_balance"`
	MaxDebt              *decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_debt"` // 透支上限，NULL=不设上限（仅在允许负余额时生效）
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GroupSettings) TableName() string {
	return "group_settings"
}

// DebtPolicy 负债策略
// allowNegativeBalance=false 时余额不得低于0
// allowNegativeBalance=true 且 maxDebt 非空时余额不得低于 -maxDebt
type DebtPolicy struct {
	AllowNegativeBalance bool
	MaxDebt              *decimal.Decimal
}
