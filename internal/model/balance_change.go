package model

import (
	"time"
)

const (
	DirectionDebit  = "DEBIT"  // 出账
	DirectionCredit = "CREDIT" // 入账
)

// CompensateTokenPrefix 补偿入账的幂等令牌前缀，拼接原订单号使用
const CompensateTokenPrefix = "COMPENSATE_"

// BalanceChange 余额变动日志表
// 每次真正落到账户余额上的变动记一条，token 唯一索引保证同一令牌只生效一次
//
// 约定：
//   - 消费扣款的 token 就是订单号
//   - 充值入账的 token 是充值流水号
//   - 补偿入账的 token 是 COMPENSATE_ + 订单号
//
// 扣款日志行存在 <=> 该订单的扣款已生效且未被补偿，
// 补偿时删除扣款日志行，由此保证失败重试不会把钱补偿两次、也不会漏扣
type BalanceChange struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Token     string    `gorm:"type:varchar(80);uniqueIndex;not null" json:"token"` // 幂等令牌
	AccountID int64     `gorm:"index;not null" json:"account_id"`
	Amount    int64     `gorm:"not null" json:"amount"` // 变动金额（分，恒为正数）
	Direction string    `gorm:"type:varchar(10);not null" json:"direction"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceChange) TableName() string {
	return "balance_change"
}
