package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	KindTaskReward       = "TASK_REWARD"        // 任务完成奖励
	KindRewardRedemption = "REWARD_REDEMPTION"  // 兑换奖励（扣减）
	KindManualAdjustment = "MANUAL_ADJUSTMENT"  // 管理员手动调整
	KindThankYouSent     = "THANK_YOU_SENT"     // 感谢积分转出
	KindThankYouReceived = "THANK_YOU_RECEIVED" // 感谢积分转入
	KindPenalty          = "PENALTY"            // 违规处罚（扣减）
	KindInitialBalance   = "INITIAL_BALANCE"    // 期初余额导入
)

var validKinds = map[string]bool{
	KindTaskReward:       true,
	KindRewardRedemption: true,
	KindManualAdjustment: true,
	KindThankYouSent:     true,
	KindThankYouReceived: true,
	KindPenalty:          true,
	KindInitialBalance:   true,
}

// IsValidKind 判断流水类型是否合法
func IsValidKind(kind string) bool {
	return validKinds[kind]
}

// 关联实体类型
const (
	RelatedTypeReward = "REWARD"
	RelatedTypeTask   = "TASK"
)

// ============================================================================
// 账户流水实体
// ============================================================================

// Transaction 积分流水表
// 记录账户的每一笔积分变动，是对账和审计的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 冲正通过新增一笔反号流水实现，绝不改写历史记录
// 3. 记录交易后余额快照 —— 便于校验余额一致性
// 4. (account_id, idempotency_key) 唯一 —— 客户端重试不会重复入账
type Transaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	AccountID      int64           `gorm:"index;uniqueIndex:uk_account_idem,priority:1;not null" json:"account_id"`
	Kind           string          `gorm:"type:varchar(32);not null" json:"kind"`            // 流水类型
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`        // 金额（正数入账，负数出账）
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_after"` // 交易后余额快照
	Description    string          `gorm:"type:varchar(256)" json:"description"`             // 描述/备注
	RelatedType    string          `gorm:"type:varchar(32)" json:"related_type,omitempty"`   // 关联实体类型（奖励/任务）
	RelatedID      int64           `gorm:"default:0" json:"related_id,omitempty"`            // 关联实体ID
	ActorID        int64           `gorm:"not null" json:"actor_id"`                         // 发起人（成员或管理员）
	IdempotencyKey *string         `gorm:"type:varchar(64);uniqueIndex:uk_account_idem,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "account_transaction"
}
