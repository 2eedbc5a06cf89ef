package service

import (
	"context"
	"strings"

	"bonusledger/internal/model"

	"github.com/shopspring/decimal"
)

// AdjustService 管理员手动调整
// 对 LedgerService 的薄封装；权限校验（操作者是否为小组管理员）
// 由上游调用方负责，这里只管记账
type AdjustService struct {
	ledger *LedgerService
}

func NewAdjustService(ledger *LedgerService) *AdjustService {
	return &AdjustService{ledger: ledger}
}

// AdjustRequest 手动调整请求
type AdjustRequest struct {
	AccountID   int64
	Amount      decimal.Decimal
	Description string // 审计要求：必填
	ActorID     int64
	RequestID   string // 幂等ID，可选
}

// Adjust 记一笔手动调整流水
// 修正历史错账时同样走这里：新增一笔反号流水，绝不改写已有记录
func (s *AdjustService) Adjust(ctx context.Context, req *AdjustRequest) (*model.Transaction, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrDescriptionRequired
	}

	idemKey := ""
	if req.RequestID != "" {
		idemKey = "adjust:" + req.RequestID
	}

	return s.ledger.PostTransaction(ctx, &PostRequest{
		AccountID:      req.AccountID,
		Kind:           model.KindManualAdjustment,
		Amount:         req.Amount,
		Description:    req.Description,
		ActorID:        req.ActorID,
		IdempotencyKey: idemKey,
	})
}
