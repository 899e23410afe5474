package repository

import (
	"context"
	"errors"
	"time"

	"consumesystem/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicateOrderNo = errors.New("订单号已存在")

type ConsumeRecordRepository struct {
	db *gorm.DB
}

func NewConsumeRecordRepository(db *gorm.DB) *ConsumeRecordRepository {
	return &ConsumeRecordRepository{db: db}
}

func (r *ConsumeRecordRepository) FindByOrderNo(ctx context.Context, orderNo string) (*model.ConsumeRecord, error) {
	var record model.ConsumeRecord
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Insert 写入消费流水，返回实际写入行数
// order_no 唯一索引冲突返回 ErrDuplicateOrderNo，调用方按"已处理过"收敛
func (r *ConsumeRecordRepository) Insert(ctx context.Context, record *model.ConsumeRecord) (int64, error) {
	result := r.db.WithContext(ctx).Create(record)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return 0, ErrDuplicateOrderNo
		}
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// SumToday 当日成功消费累计（自然日，本地时区）
// 每次校验都实时汇总，限额判断期间别的请求可能正在写入新流水
func (r *ConsumeRecordRepository) SumToday(ctx context.Context, personID int64) (int64, error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return r.sumSince(ctx, personID, dayStart)
}

// SumThisMonth 当月成功消费累计（自然月，本地时区）
func (r *ConsumeRecordRepository) SumThisMonth(ctx context.Context, personID int64) (int64, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return r.sumSince(ctx, personID, monthStart)
}

func (r *ConsumeRecordRepository) sumSince(ctx context.Context, personID int64, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.ConsumeRecord{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("person_id = ? AND status = ? AND consume_time >= ?",
			personID, model.RecordStatusSuccess, since).
		Scan(&total).Error
	return total, err
}

func (r *ConsumeRecordRepository) ListByPersonID(ctx context.Context, personID int64, page, pageSize int) ([]*model.ConsumeRecord, int64, error) {
	var records []*model.ConsumeRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ConsumeRecord{}).Where("person_id = ?", personID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("consume_time DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
