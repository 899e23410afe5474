package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"consumesystem/internal/config"
	"consumesystem/internal/infrastructure/lock"
	"consumesystem/internal/model"
	"consumesystem/internal/repository"
	"consumesystem/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 错误码
// ============================================================================

const (
	ResultCodeSuccess = 0
	ResultCodeFailed  = 1
)

const (
	ErrCodeInvalidParam        = "INVALID_PARAM"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountStatus       = "ACCOUNT_STATUS_INVALID"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeLimitExceeded       = "LIMIT_EXCEEDED"
	// 扣款原语返回失败（钱没动）和流水落库失败已补偿（钱动了又退回）
	// 对外话术一致，错误码区分开便于排查
	ErrCodeDeductFailed      = "DEDUCT_FAILED"
	ErrCodeRecordWriteFailed = "RECORD_WRITE_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
)

// ============================================================================
// 存储接口
// 由 repository 包的 gorm 实现提供，测试用内存实现替换
// ============================================================================

type AccountStore interface {
	GetByPersonID(ctx context.Context, personID int64) (*model.Account, error)
	DebitBalance(ctx context.Context, accountID int64, amount int64, token string) (bool, error)
	CompensateDebit(ctx context.Context, accountID int64, amount int64, orderNo string) (bool, error)
}

type ConsumeRecordStore interface {
	FindByOrderNo(ctx context.Context, orderNo string) (*model.ConsumeRecord, error)
	Insert(ctx context.Context, record *model.ConsumeRecord) (int64, error)
	SumToday(ctx context.Context, personID int64) (int64, error)
	SumThisMonth(ctx context.Context, personID int64) (int64, error)
	ListByPersonID(ctx context.Context, personID int64, page, pageSize int) ([]*model.ConsumeRecord, int64, error)
}

type OutboxStore interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
}

// AccountLock 按账户维度的互斥锁
type AccountLock interface {
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// ============================================================================
// 消费引擎
// ============================================================================

// ConsumeService 消费引擎
// 自身无共享可变状态，可以任意多实例并发跑，
// 并发控制全部压到存储层：余额靠条件 UPDATE，幂等靠 order_no 唯一索引
type ConsumeService struct {
	accounts AccountStore
	records  ConsumeRecordStore
	outbox   OutboxStore
	cfg      *config.Config
	newLock  func(accountID int64, holder string) AccountLock
}

func NewConsumeService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ConsumeService {
	return &ConsumeService{
		accounts: repository.NewAccountRepository(db),
		records:  repository.NewConsumeRecordRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		cfg:      cfg,
		newLock: func(accountID int64, holder string) AccountLock {
			return lock.NewConsumeLock(redisClient, accountID, holder)
		},
	}
}

// newConsumeService 测试用构造，注入内存存储和假锁
func newConsumeService(accounts AccountStore, records ConsumeRecordStore, outbox OutboxStore,
	cfg *config.Config, newLock func(accountID int64, holder string) AccountLock) *ConsumeService {
	return &ConsumeService{
		accounts: accounts,
		records:  records,
		outbox:   outbox,
		cfg:      cfg,
		newLock:  newLock,
	}
}

type ConsumeRequest struct {
	OrderNo         string `json:"order_no"` // 调用方生成的幂等键，全局唯一
	PersonID        int64  `json:"person_id"`
	AccountID       int64  `json:"account_id"`
	Amount          int64  `json:"amount"` // 消费金额（分）
	ConsumptionMode string `json:"consumption_mode"`
	PayMethod       string `json:"pay_method"`
	DeviceID        int64  `json:"device_id"`
	DeviceNo        string `json:"device_no"`
	DeviceType      string `json:"device_type"`
	RegionID        int64  `json:"region_id"`
	ClientIP        string `json:"client_ip"`
	Source          string `json:"source"`
	Remark          string `json:"remark"`
}

type ConsumeResult struct {
	Success      bool   `json:"success"`
	ResultCode   int    `json:"result_code"`
	ErrorCode    string `json:"error_code,omitempty"`
	Message      string `json:"message,omitempty"`
	ActualAmount int64  `json:"actual_amount"`
	OrderNo      string `json:"order_no"`
	RecordNo     string `json:"record_no,omitempty"`
}

func failResult(orderNo, errorCode, message string) *ConsumeResult {
	return &ConsumeResult{
		Success:    false,
		ResultCode: ResultCodeFailed,
		ErrorCode:  errorCode,
		Message:    message,
		OrderNo:    orderNo,
	}
}

func resultFromRecord(record *model.ConsumeRecord) *ConsumeResult {
	result := &ConsumeResult{
		Success:      record.Status == model.RecordStatusSuccess,
		ActualAmount: record.Amount,
		OrderNo:      record.OrderNo,
		RecordNo:     record.RecordNo,
	}
	if !result.Success {
		result.ResultCode = ResultCodeFailed
	}
	return result
}

// ProcessConsume 处理一笔消费扣款
//
// 【关键点】消费是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 order_no 不论提交多少次，余额只扣一次，返回同一条流水
// 2. 余额一致：每条 SUCCESS 流水都对应恰好一次扣款，流水写失败必须把钱退回去
// 3. 并发安全：余额判断和扣减靠存储层的原子原语，引擎内不缓存余额和累计值
//
// 业务拒绝通过 ConsumeResult 返回，error 只用于底层存储故障
func (s *ConsumeService) ProcessConsume(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error) {
	if result := validateConsumeRequest(req); result != nil {
		return result, nil
	}

	// 幂等检查：已有流水直接返回，不碰账户
	existing, err := s.records.FindByOrderNo(ctx, req.OrderNo)
	if err != nil {
		return nil, fmt.Errorf("查询消费流水失败: %w", err)
	}
	if existing != nil {
		return resultFromRecord(existing), nil
	}

	// 按账户维度加锁，同一账户的消费串行执行
	// 锁只是减少无效冲突的优化，正确性由扣款原语和唯一索引兜底
	consumeLock := s.newLock(req.AccountID, req.OrderNo)
	if err := consumeLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer consumeLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	existing, err = s.records.FindByOrderNo(ctx, req.OrderNo)
	if err != nil {
		return nil, fmt.Errorf("查询消费流水失败: %w", err)
	}
	if existing != nil {
		return resultFromRecord(existing), nil
	}

	account, err := s.accounts.GetByPersonID(ctx, req.PersonID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return failResult(req.OrderNo, ErrCodeAccountNotFound, "账户不存在"), nil
		}
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}

	if account.ID != req.AccountID {
		return failResult(req.OrderNo, ErrCodeInvalidParam, "账户与人员不匹配"), nil
	}

	if account.Status != model.AccountStatusActive {
		return failResult(req.OrderNo, ErrCodeAccountStatus,
			fmt.Sprintf("账户状态异常: %s", account.Status)), nil
	}

	if account.Balance < req.Amount {
		return failResult(req.OrderNo, ErrCodeInsufficientBalance, "余额不足"), nil
	}

	if req.Amount > account.SingleLimit {
		return failResult(req.OrderNo, ErrCodeLimitExceeded, "超出单笔消费限额"), nil
	}

	ok, err := s.checkWindowLimits(ctx, account, req.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return failResult(req.OrderNo, ErrCodeLimitExceeded, "超出当日或当月消费限额"), nil
	}

	// 原子扣款，订单号就是扣款的幂等令牌
	debited, err := s.accounts.DebitBalance(ctx, account.ID, req.Amount, req.OrderNo)
	if err != nil {
		return nil, fmt.Errorf("余额扣减失败: %w", err)
	}
	if !debited {
		// 限额检查到扣款之间余额被并发消费掉了
		return failResult(req.OrderNo, ErrCodeDeductFailed, "余额扣减失败"), nil
	}

	record := &model.ConsumeRecord{
		RecordNo:        idgen.GenerateRecordNo(),
		OrderNo:         req.OrderNo,
		PersonID:        req.PersonID,
		AccountID:       account.ID,
		Amount:          req.Amount,
		BalanceBefore:   account.Balance,
		BalanceAfter:    account.Balance - req.Amount,
		Status:          model.RecordStatusSuccess,
		PayMethod:       req.PayMethod,
		ConsumptionMode: req.ConsumptionMode,
		DeviceID:        req.DeviceID,
		DeviceNo:        req.DeviceNo,
		DeviceType:      req.DeviceType,
		RegionID:        req.RegionID,
		ClientIP:        req.ClientIP,
		Source:          req.Source,
		Remark:          req.Remark,
		ConsumeTime:     time.Now(),
	}

	rows, err := s.records.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateOrderNo) {
			// 同一订单号并发首次提交，对方先写入了流水
			// 扣款令牌保证钱只扣了一次，这里不补偿，按已处理收敛
			winner, qerr := s.records.FindByOrderNo(ctx, req.OrderNo)
			if qerr != nil {
				return nil, fmt.Errorf("查询消费流水失败: %w", qerr)
			}
			if winner != nil {
				return resultFromRecord(winner), nil
			}
			return nil, fmt.Errorf("订单号冲突但流水缺失: orderNo=%s", req.OrderNo)
		}
		s.compensate(ctx, account.ID, req.Amount, req.OrderNo)
		return failResult(req.OrderNo, ErrCodeRecordWriteFailed, "余额扣减失败"), nil
	}
	if rows == 0 {
		s.compensate(ctx, account.ID, req.Amount, req.OrderNo)
		return failResult(req.OrderNo, ErrCodeRecordWriteFailed, "余额扣减失败"), nil
	}

	s.publishConsumeResult(ctx, record)

	log.Printf("消费成功: orderNo=%s, personID=%d, amount=%d, balance=%d",
		req.OrderNo, req.PersonID, req.Amount, record.BalanceAfter)

	return &ConsumeResult{
		Success:      true,
		ResultCode:   ResultCodeSuccess,
		ActualAmount: req.Amount,
		OrderNo:      req.OrderNo,
		RecordNo:     record.RecordNo,
	}, nil
}

// compensate 流水落库失败后把扣掉的钱退回账户
// 补偿本身幂等，这里失败不再自愈，留给补偿任务扫描重试
func (s *ConsumeService) compensate(ctx context.Context, accountID, amount int64, orderNo string) {
	_, err := s.accounts.CompensateDebit(ctx, accountID, amount, orderNo)
	if err != nil {
		log.Printf("[补偿] 退款失败，等待补偿任务重试: orderNo=%s, accountID=%d, amount=%d, err=%v",
			orderNo, accountID, amount, err)
	}
}

func validateConsumeRequest(req *ConsumeRequest) *ConsumeResult {
	switch {
	case req.OrderNo == "":
		return failResult("", ErrCodeInvalidParam, "订单号不能为空")
	case req.PersonID <= 0:
		return failResult(req.OrderNo, ErrCodeInvalidParam, "人员ID不合法")
	case req.AccountID <= 0:
		return failResult(req.OrderNo, ErrCodeInvalidParam, "账户ID不合法")
	case req.Amount <= 0:
		return failResult(req.OrderNo, ErrCodeInvalidParam, "消费金额必须大于0")
	case req.ConsumptionMode == "":
		return failResult(req.OrderNo, ErrCodeInvalidParam, "消费模式不能为空")
	}
	return nil
}

// checkWindowLimits 当日/当月累计限额校验
// 累计值每次从流水表实时汇总，并发消费会实时改变这两个数
func (s *ConsumeService) checkWindowLimits(ctx context.Context, account *model.Account, amount int64) (bool, error) {
	todayTotal, err := s.records.SumToday(ctx, account.PersonID)
	if err != nil {
		return false, fmt.Errorf("汇总当日消费失败: %w", err)
	}
	if todayTotal+amount > account.DailyLimit {
		return false, nil
	}

	monthTotal, err := s.records.SumThisMonth(ctx, account.PersonID)
	if err != nil {
		return false, fmt.Errorf("汇总当月消费失败: %w", err)
	}
	if monthTotal+amount > account.MonthlyLimit {
		return false, nil
	}

	return true, nil
}

// QueryConsumeResult 按订单号查询消费结果
// 纯读路径。调用方超时丢失响应后，用它拿回权威结果，不必盲目重发
func (s *ConsumeService) QueryConsumeResult(ctx context.Context, orderNo string) (*ConsumeResult, error) {
	if orderNo == "" {
		return failResult("", ErrCodeInvalidParam, "订单号不能为空"), nil
	}

	record, err := s.records.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, fmt.Errorf("查询消费流水失败: %w", err)
	}
	if record == nil {
		return failResult(orderNo, ErrCodeNotFound, "消费记录不存在"), nil
	}

	return resultFromRecord(record), nil
}

// CheckConsumePermission 消费前置校验：账户存在且状态正常
// 设备/区域的准入不在本引擎职责内，参数仅透传
func (s *ConsumeService) CheckConsumePermission(ctx context.Context, personID, deviceID, regionID int64) (bool, error) {
	account, err := s.accounts.GetByPersonID(ctx, personID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("查询账户失败: %w", err)
	}
	return account.Status == model.AccountStatusActive, nil
}

// ValidateConsumeLimit 消费前置校验：金额是否会触达当日/当月限额
func (s *ConsumeService) ValidateConsumeLimit(ctx context.Context, personID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, nil
	}

	account, err := s.accounts.GetByPersonID(ctx, personID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("查询账户失败: %w", err)
	}

	return s.checkWindowLimits(ctx, account, amount)
}

// ListRecords 查询个人消费流水（分页）
func (s *ConsumeService) ListRecords(ctx context.Context, personID int64, page, pageSize int) ([]*model.ConsumeRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return s.records.ListByPersonID(ctx, personID, page, pageSize)
}

// publishConsumeResult 消费结果经 outbox 异步投递到 Kafka
// 写失败只记日志，不影响消费结果
func (s *ConsumeService) publishConsumeResult(ctx context.Context, record *model.ConsumeRecord) {
	payload := map[string]interface{}{
		"order_no":      record.OrderNo,
		"record_no":     record.RecordNo,
		"person_id":     record.PersonID,
		"account_id":    record.AccountID,
		"amount":        record.Amount,
		"balance_after": record.BalanceAfter,
		"device_no":     record.DeviceNo,
		"region_id":     record.RegionID,
		"consume_time":  record.ConsumeTime.Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: record.OrderNo,
		Topic:      s.cfg.Kafka.Topic.ConsumeResult,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outbox.Create(ctx, msg); err != nil {
		log.Printf("[消费] 写入通知消息失败: orderNo=%s, err=%v", record.OrderNo, err)
	}
}
