package model

import (
	"time"
)

// ============================================================================
// 消费方式 / 支付方式常量
// ============================================================================

const (
	ConsumeModeFixed   = "FIXED"   // 定值消费
	ConsumeModeFree    = "FREE"    // 任意金额消费
	ConsumeModeMetered = "METERED" // 计量消费
)

const (
	PayMethodCard   = "CARD"   // 刷卡
	PayMethodFace   = "FACE"   // 人脸
	PayMethodQRCode = "QRCODE" // 扫码
)

const (
	RecordStatusSuccess = "SUCCESS"
)

// ============================================================================
// 消费流水实体
// ============================================================================

// ConsumeRecord 消费流水表
// 每笔受理成功的消费记一条，写入后不修改、不删除
//
// 【重要】流水表设计原则：
// 1. order_no 全局唯一 —— 幂等的最终防线在数据库唯一索引，不在应用层的先查后写
// 2. 记录交易前后余额 —— 便于对账校验余额一致性
// 3. 当日/当月限额累计直接从流水表实时汇总，不做缓存
type ConsumeRecord struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RecordNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"record_no"` // 流水号（入库时生成）
	OrderNo         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`  // 订单号（调用方生成的幂等键）
	PersonID        int64     `gorm:"index;not null" json:"person_id"`
	AccountID       int64     `gorm:"index;not null" json:"account_id"`
	Amount          int64     `gorm:"not null" json:"amount"`         // 消费金额（分）
	BalanceBefore   int64     `gorm:"not null" json:"balance_before"` // 交易前余额
	BalanceAfter    int64     `gorm:"not null" json:"balance_after"`  // 交易后余额
	Status          string    `gorm:"type:varchar(20);index;not null" json:"status"`
	PayMethod       string    `gorm:"type:varchar(20)" json:"pay_method"`
	ConsumptionMode string    `gorm:"type:varchar(20);not null" json:"consumption_mode"`
	DeviceID        int64     `gorm:"index" json:"device_id"`
	DeviceNo        string    `gorm:"type:varchar(64)" json:"device_no"`
	DeviceType      string    `gorm:"type:varchar(32)" json:"device_type"`
	RegionID        int64     `gorm:"index" json:"region_id"`
	ClientIP        string    `gorm:"type:varchar(64)" json:"client_ip"`
	Source          string    `gorm:"type:varchar(32)" json:"source"`
	Remark          string    `gorm:"type:varchar(256)" json:"remark"`
	ConsumeTime     time.Time `gorm:"index;not null" json:"consume_time"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ConsumeRecord) TableName() string {
	return "consume_record"
}
