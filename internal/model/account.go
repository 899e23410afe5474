package model

import (
	"time"
)

// ============================================================================
// 账户状态常量
// ============================================================================

const (
	AccountStatusActive    = "ACTIVE"    // 正常，可消费
	AccountStatusFrozen    = "FROZEN"    // 冻结，禁止消费
	AccountStatusCancelled = "CANCELLED" // 销户，终态
)

var ValidStatusTransitions = map[string][]string{
	AccountStatusActive: {AccountStatusFrozen, AccountStatusCancelled},
	AccountStatusFrozen: {AccountStatusActive, AccountStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Account 个人账户表
// 记录每个人员的预付余额和消费限额，是消费引擎的核心数据
//
// 金额单位统一为分
type Account struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonID     int64     `gorm:"uniqueIndex;not null" json:"person_id"`   // 人员ID，与账户一一对应
	Balance      int64     `gorm:"not null;default:0" json:"balance"`       // 可用余额（分）
	FrozenAmount int64     `gorm:"not null;default:0" json:"frozen_amount"` // 冻结金额（预留，消费链路不修改）
	CreditLimit  int64     `gorm:"not null;default:0" json:"credit_limit"`  // 透支额度（预留，暂不使用）
	SingleLimit  int64     `gorm:"not null;default:0" json:"single_limit"`  // 单笔消费限额
	DailyLimit   int64     `gorm:"not null;default:0" json:"daily_limit"`   // 当日累计消费限额
	MonthlyLimit int64     `gorm:"not null;default:0" json:"monthly_limit"` // 当月累计消费限额
	Status       string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Version      int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
