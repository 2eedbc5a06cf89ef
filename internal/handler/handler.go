package handler

import (
	"errors"
	"strconv"

	"bonusledger/internal/config"
	"bonusledger/internal/infrastructure/lock"
	"bonusledger/internal/repository"
	"bonusledger/internal/service"
	"bonusledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService  *service.AccountService
	ledgerService   *service.LedgerService
	redeemService   *service.RedeemService
	adjustService   *service.AdjustService
	rewardService   *service.RewardService
	settingsService *service.SettingsService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, locker lock.Locker, cfg *config.Config) *Handler {
	ledger := service.NewLedgerService(db, locker, cfg)
	return &Handler{
		accountService:  service.NewAccountService(db),
		ledgerService:   ledger,
		redeemService:   service.NewRedeemService(db, locker, cfg, ledger),
		adjustService:   service.NewAdjustService(ledger),
		rewardService:   service.NewRewardService(db, locker, cfg),
		settingsService: service.NewSettingsService(db),
	}
}

// businessError 把业务错误映射成响应码
// 兑换失败必须返回具体原因（售罄/余额不足/超上限），
// 前端才能给出准确提示，而不是笼统的"操作失败"
func businessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrRewardNotFound):
		response.BusinessError(c, response.CodeRewardNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrDebtLimitExceeded):
		response.BusinessError(c, response.CodeDebtLimitExceeded, err.Error())
	case errors.Is(err, service.ErrRewardInactive):
		response.BusinessError(c, response.CodeRewardInactive, err.Error())
	case errors.Is(err, service.ErrSoldOut):
		response.BusinessError(c, response.CodeSoldOut, err.Error())
	case errors.Is(err, service.ErrRedemptionLimitReached):
		response.BusinessError(c, response.CodeRedemptionLimit, err.Error())
	case errors.Is(err, lock.ErrBusy):
		response.BusinessError(c, response.CodeBusy, err.Error())
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidKind),
		errors.Is(err, service.ErrInvalidCost),
		errors.Is(err, service.ErrInvalidStock),
		errors.Is(err, service.ErrInvalidLimit),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrDescriptionRequired),
		errors.Is(err, service.ErrRewardGroupMismatch):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询成员在小组内的积分余额
// GET /api/v1/account/balance?user_id=xxx&group_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	groupID, err := strconv.ParseInt(c.Query("group_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "group_id 参数错误")
		return
	}

	account, err := h.accountService.GetOrCreate(c.Request.Context(), userID, groupID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"account_id":    account.ID,
		"owner_user_id": account.OwnerUserID,
		"group_id":      account.GroupID,
		"currency_code": account.CurrencyCode,
		"balance":       account.Balance,
	})
}

// ListTransactions 查询账户流水
// GET /api/v1/ledger/transactions?account_id=xxx&kind=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Query("account_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "account_id 参数错误")
		return
	}

	kind := c.Query("kind")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	transactions, total, err := h.ledgerService.ListTransactions(c.Request.Context(), accountID, kind, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 记账接口（任务完成奖励、处罚、感谢积分等业务方调用）
// ============================================================

// PostTransactionRequest 记账请求
type PostTransactionRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	GroupID        int64           `json:"group_id" binding:"required"`
	Kind           string          `json:"kind" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	RelatedType    string          `json:"related_type"`
	RelatedID      int64           `json:"related_id"`
	ActorID        int64           `json:"actor_id" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key"` // 幂等ID，客户端生成
}

// PostTransaction 记一笔流水
// POST /api/v1/ledger/post
//
// 【关键点】记账是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 idempotency_key 只会入账一次
// 2. 原子性：余额更新和流水写入必须同时成功或同时失败
// 3. 并发安全：按账户维度加锁防止超扣
func (h *Handler) PostTransaction(c *gin.Context) {
	var req PostTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.GetOrCreate(c.Request.Context(), req.UserID, req.GroupID)
	if err != nil {
		businessError(c, err)
		return
	}

	trans, err := h.ledgerService.PostTransaction(c.Request.Context(), &service.PostRequest{
		AccountID:      account.ID,
		Kind:           req.Kind,
		Amount:         req.Amount,
		Description:    req.Description,
		RelatedType:    req.RelatedType,
		RelatedID:      req.RelatedID,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// 奖励目录接口
// ============================================================

// CreateRewardRequest 创建奖励请求
type CreateRewardRequest struct {
	GroupID        int64           `json:"group_id" binding:"required"`
	Name           string          `json:"name" binding:"required"`
	Cost           decimal.Decimal `json:"cost"`
	StockRemaining *int            `json:"stock_remaining"` // 不传=不限量
	MaxPerUser     *int            `json:"max_per_user"`    // 不传=不限
}

// CreateReward 创建奖励
// POST /api/v1/reward/create
func (h *Handler) CreateReward(c *gin.Context) {
	var req CreateRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	reward, err := h.rewardService.Create(c.Request.Context(), &service.CreateRewardRequest{
		GroupID:        req.GroupID,
		Name:           req.Name,
		Cost:           req.Cost,
		StockRemaining: req.StockRemaining,
		MaxPerUser:     req.MaxPerUser,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, reward)
}

// UpdateRewardRequest 修改奖励请求
// 指针字段不传表示不更新；清除限量/上限用对应的 clear 开关
type UpdateRewardRequest struct {
	RewardID        int64            `json:"reward_id" binding:"required"`
	Name            *string          `json:"name"`
	Cost            *decimal.Decimal `json:"cost"`
	StockRemaining  *int             `json:"stock_remaining"`
	ClearStockLimit bool             `json:"clear_stock_limit"`
	MaxPerUser      *int             `json:"max_per_user"`
	ClearMaxPerUser bool             `json:"clear_max_per_user"`
	IsActive        *bool            `json:"is_active"`
}

// UpdateReward 修改奖励（含补货）
// POST /api/v1/reward/update
func (h *Handler) UpdateReward(c *gin.Context) {
	var req UpdateRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	upd := &repository.RewardUpdate{
		Name:     req.Name,
		Cost:     req.Cost,
		IsActive: req.IsActive,
	}
	if req.ClearStockLimit {
		var unlimited *int
		upd.StockRemaining = &unlimited
	} else if req.StockRemaining != nil {
		upd.StockRemaining = &req.StockRemaining
	}
	if req.ClearMaxPerUser {
		var unlimited *int
		upd.MaxPerUser = &unlimited
	} else if req.MaxPerUser != nil {
		upd.MaxPerUser = &req.MaxPerUser
	}

	if err := h.rewardService.Update(c.Request.Context(), req.RewardID, upd); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "奖励已更新"})
}

// DeactivateReward 下架奖励
// POST /api/v1/reward/deactivate
func (h *Handler) DeactivateReward(c *gin.Context) {
	var req struct {
		RewardID int64 `json:"reward_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.rewardService.Deactivate(c.Request.Context(), req.RewardID); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "奖励已下架"})
}

// ListRewards 查询小组奖励目录
// GET /api/v1/reward/list?group_id=xxx&only_active=true&page=1&page_size=20
func (h *Handler) ListRewards(c *gin.Context) {
	groupID, err := strconv.ParseInt(c.Query("group_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "group_id 参数错误")
		return
	}

	onlyActive := c.DefaultQuery("only_active", "true") == "true"
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	rewards, total, err := h.rewardService.List(c.Request.Context(), groupID, onlyActive, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      rewards,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 兑换接口
// ============================================================

// RedeemRequest 兑换请求
type RedeemRequest struct {
	RewardID  int64  `json:"reward_id" binding:"required"`
	UserID    int64  `json:"user_id" binding:"required"`
	GroupID   int64  `json:"group_id" binding:"required"`
	RequestID string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
}

// Redeem 兑换奖励
// POST /api/v1/reward/redeem
//
// 【关键点】兑换同时动库存和余额两个资源：
// 1. 库存永远不会为负，最后一件在并发下只会被一个人兑走
// 2. 扣积分失败时库存会被补偿回来，不会永久丢失
// 3. 超时重试带同一个 request_id，不会重复扣款
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.redeemService.Redeem(c.Request.Context(), &service.RedeemRequest{
		RewardID:  req.RewardID,
		UserID:    req.UserID,
		GroupID:   req.GroupID,
		RequestID: req.RequestID,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// 管理接口
// ============================================================

// AdjustRequest 手动调整请求
type AdjustRequest struct {
	AccountID   int64           `json:"account_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"required"` // 审计要求必填
	ActorID     int64           `json:"actor_id" binding:"required"`
	RequestID   string          `json:"request_id"`
}

// Adjust 管理员手动调整积分
// POST /api/v1/admin/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.adjustService.Adjust(c.Request.Context(), &service.AdjustRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     req.ActorID,
		RequestID:   req.RequestID,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, trans)
}

// UpsertSettingsRequest 小组积分配置
type UpsertSettingsRequest struct {
	GroupID              int64            `json:"group_id" binding:"required"`
	CurrencyCode         string           `json:"currency_code"`
	AllowNegativeBalance bool             `json:"allow_negative_balance"`
	MaxDebt              *decimal.Decimal `json:"max_debt"`
}

// UpsertSettings 写入小组积分配置
// POST /api/v1/admin/settings
func (h *Handler) UpsertSettings(c *gin.Context) {
	var req UpsertSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.settingsService.Upsert(c.Request.Context(), &service.UpsertRequest{
		GroupID:              req.GroupID,
		CurrencyCode:         req.CurrencyCode,
		AllowNegativeBalance: req.AllowNegativeBalance,
		MaxDebt:              req.MaxDebt,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "配置已保存"})
}
