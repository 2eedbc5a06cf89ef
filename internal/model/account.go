package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 积分账户表
// 每个 (成员, 小组, 币种) 对应一个账户，是整个积分体系的核心数据
//
// 【重要】余额一致性原则：
// balance 永远等于该账户所有已提交流水 amount 的总和
// 余额只能由 LedgerService 修改，其他任何代码不得直接更新 balance
type Account struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerUserID  int64           `gorm:"uniqueIndex:uk_owner_group_currency,priority:1;not null" json:"owner_user_id"` // 成员ID，业务方传入
	GroupID      int64           `gorm:"uniqueIndex:uk_owner_group_currency,priority:2;not null" json:"group_id"`      // 小组ID
	CurrencyCode string          `gorm:"type:varchar(16);uniqueIndex:uk_owner_group_currency,priority:3;not null" json:"currency_code"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"` // 当前积分余额
	Version      int             `gorm:"not null;default:0" json:"version"`                    // 乐观锁版本号
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
