package handler

import (
	"strconv"

	"consumesystem/internal/config"
	"consumesystem/internal/service"
	"consumesystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	consumeService *service.ConsumeService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		accountService: service.NewAccountService(db, cfg),
		consumeService: service.NewConsumeService(db, rdb, cfg),
	}
}

// ============================================================
// 消费相关接口
// ============================================================

// ConsumeExecuteRequest 消费扣款请求
type ConsumeExecuteRequest struct {
	OrderNo         string `json:"order_no" binding:"required"` // 幂等键，调用方生成
	PersonID        int64  `json:"person_id" binding:"required"`
	AccountID       int64  `json:"account_id" binding:"required"`
	Amount          int64  `json:"amount" binding:"required,gt=0"` // 金额（分）
	ConsumptionMode string `json:"consumption_mode" binding:"required"`
	PayMethod       string `json:"pay_method"`
	DeviceID        int64  `json:"device_id"`
	DeviceNo        string `json:"device_no"`
	DeviceType      string `json:"device_type"`
	RegionID        int64  `json:"region_id"`
	Source          string `json:"source"`
	Remark          string `json:"remark"`
}

// ConsumeExecute 消费扣款
// POST /api/v1/consume/execute
//
// 【关键点】消费是整个系统最核心的操作：
// 1. 幂等性：相同 order_no 只扣一次款，重复提交返回同一条流水
// 2. 一致性：流水落库失败时自动退回已扣金额
// 3. 并发安全：余额扣减由存储层原子原语保证
func (h *Handler) ConsumeExecute(c *gin.Context) {
	var req ConsumeExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	consumeReq := &service.ConsumeRequest{
		OrderNo:         req.OrderNo,
		PersonID:        req.PersonID,
		AccountID:       req.AccountID,
		Amount:          req.Amount,
		ConsumptionMode: req.ConsumptionMode,
		PayMethod:       req.PayMethod,
		DeviceID:        req.DeviceID,
		DeviceNo:        req.DeviceNo,
		DeviceType:      req.DeviceType,
		RegionID:        req.RegionID,
		ClientIP:        c.ClientIP(),
		Source:          req.Source,
		Remark:          req.Remark,
	}

	result, err := h.consumeService.ProcessConsume(c.Request.Context(), consumeReq)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	respondConsumeResult(c, result)
}

// ConsumeQuery 按订单号查询消费结果
// GET /api/v1/consume/result?order_no=xxx
func (h *Handler) ConsumeQuery(c *gin.Context) {
	orderNo := c.Query("order_no")

	result, err := h.consumeService.QueryConsumeResult(c.Request.Context(), orderNo)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	respondConsumeResult(c, result)
}

// CheckPermission 消费前置校验：账户是否允许消费
// GET /api/v1/consume/permission?person_id=xxx&device_id=xxx&region_id=xxx
func (h *Handler) CheckPermission(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Query("person_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "person_id 参数错误")
		return
	}
	deviceID, _ := strconv.ParseInt(c.DefaultQuery("device_id", "0"), 10, 64)
	regionID, _ := strconv.ParseInt(c.DefaultQuery("region_id", "0"), 10, 64)

	allowed, err := h.consumeService.CheckConsumePermission(c.Request.Context(), personID, deviceID, regionID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"allowed": allowed,
	})
}

// CheckLimit 消费前置校验：金额是否触达当日/当月限额
// GET /api/v1/consume/limit?person_id=xxx&amount=xxx
func (h *Handler) CheckLimit(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Query("person_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "person_id 参数错误")
		return
	}
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		response.ParamError(c, "amount 参数错误")
		return
	}

	allowed, err := h.consumeService.ValidateConsumeLimit(c.Request.Context(), personID, amount)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"allowed": allowed,
	})
}

// ListRecords 查询个人消费流水
// GET /api/v1/consume/records?person_id=xxx&page=1&page_size=10
func (h *Handler) ListRecords(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Query("person_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "person_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.consumeService.ListRecords(c.Request.Context(), personID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询账户余额
// GET /api/v1/account/balance?person_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Query("person_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "person_id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), personID)
	if err != nil {
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
		return
	}

	response.Success(c, gin.H{
		"person_id":     account.PersonID,
		"account_id":    account.ID,
		"balance":       account.Balance,
		"frozen_amount": account.FrozenAmount,
		"single_limit":  account.SingleLimit,
		"daily_limit":   account.DailyLimit,
		"monthly_limit": account.MonthlyLimit,
		"status":        account.Status,
	})
}

// RechargeRequest 充值请求
type RechargeRequest struct {
	PersonID int64  `json:"person_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
	Token    string `json:"token"` // 充值渠道的幂等令牌，可选
}

// Recharge 充值接口（外部充值渠道的落账入口）
// POST /api/v1/account/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.accountService.Recharge(c.Request.Context(), req.PersonID, req.Amount, req.Token); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "充值成功",
	})
}

// FreezeRequest 冻结/解冻请求
type FreezeRequest struct {
	PersonID int64 `json:"person_id" binding:"required"`
}

// Freeze 冻结账户
// POST /api/v1/account/freeze
func (h *Handler) Freeze(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.accountService.Freeze(c.Request.Context(), req.PersonID); err != nil {
		response.BusinessError(c, response.CodeAccountStatus, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "账户已冻结",
	})
}

// Unfreeze 解冻账户
// POST /api/v1/account/unfreeze
func (h *Handler) Unfreeze(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.accountService.Unfreeze(c.Request.Context(), req.PersonID); err != nil {
		response.BusinessError(c, response.CodeAccountStatus, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "账户已解冻",
	})
}

// respondConsumeResult 引擎结果映射为统一响应
// 业务拒绝也走 200，code 区分失败类型，结果体原样返回
func respondConsumeResult(c *gin.Context, result *service.ConsumeResult) {
	if result.Success {
		response.Success(c, result)
		return
	}

	code := response.CodeBusinessError
	switch result.ErrorCode {
	case service.ErrCodeInvalidParam:
		code = response.CodeParamError
	case service.ErrCodeAccountNotFound:
		code = response.CodeAccountNotFound
	case service.ErrCodeAccountStatus:
		code = response.CodeAccountStatus
	case service.ErrCodeInsufficientBalance:
		code = response.CodeBalanceNotEnough
	case service.ErrCodeLimitExceeded:
		code = response.CodeLimitExceeded
	case service.ErrCodeDeductFailed, service.ErrCodeRecordWriteFailed:
		code = response.CodeConsumeFailed
	case service.ErrCodeNotFound:
		code = response.CodeRecordNotFound
	}

	c.JSON(200, response.Response{
		Code:    code,
		Message: result.Message,
		Data:    result,
	})
}
