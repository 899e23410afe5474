package repository

import (
	"context"
	"errors"
	"time"

	"consumesystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrStatusInvalid    = errors.New("账户状态不允许该操作")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByPersonID(ctx context.Context, personID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("person_id = ?", personID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByAccountID(ctx context.Context, accountID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DebitBalance 原子扣款
//
// 【关键点】整个消费链路里唯一一处修改共享余额的地方，必须满足：
//  1. 原子性：balance >= amount 的判断和扣减在一条条件 UPDATE 里完成，
//     两个并发扣款不可能都看到足够余额然后都成功
//  2. 幂等性：同一 token 只生效一次，重复调用直接返回 true 且不再扣款
//
// 返回 false 表示余额不足（或账户非正常状态），不是错误
func (r *AccountRepository) DebitBalance(ctx context.Context, accountID int64, amount int64, token string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change := &model.BalanceChange{
			Token:     token,
			AccountID: accountID,
			Amount:    amount,
			Direction: model.DirectionDebit,
		}
		if err := tx.Create(change).Error; err != nil {
			if isDuplicateKeyError(err) {
				// 该令牌已扣过款，保持幂等，不再重复扣
				applied = true
				return nil
			}
			return err
		}

		result := tx.Model(&model.Account{}).
			Where("id = ? AND status = ? AND balance >= ?", accountID, model.AccountStatusActive, amount).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance - ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// 条件不满足，整个事务回滚（扣款日志一并撤销）
			return ErrBalanceNotEnough
		}

		applied = true
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrBalanceNotEnough) {
			return false, nil
		}
		return false, err
	}
	return applied, nil
}

// CreditBalance 入账（充值等）
// 同一 token 只生效一次
func (r *AccountRepository) CreditBalance(ctx context.Context, accountID int64, amount int64, token string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change := &model.BalanceChange{
			Token:     token,
			AccountID: accountID,
			Amount:    amount,
			Direction: model.DirectionCredit,
		}
		if err := tx.Create(change).Error; err != nil {
			if isDuplicateKeyError(err) {
				applied = true
				return nil
			}
			return err
		}

		result := tx.Model(&model.Account{}).
			Where("id = ?", accountID).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// CompensateDebit 补偿：把一笔已扣款但流水落库失败的订单的钱退回账户
//
// 【关键点】删除扣款日志行是整个补偿的原子判定点：
//   - 删到了 —— 说明扣款确实生效且未补偿过，本事务内退款
//   - 没删到 —— 说明从未扣款或已补偿过，直接返回，天然幂等
//
// 崩溃后重试安全：删除和退款在同一个数据库事务里
func (r *AccountRepository) CompensateDebit(ctx context.Context, accountID int64, amount int64, orderNo string) (bool, error) {
	compensated := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("token = ? AND account_id = ? AND direction = ?",
			orderNo, accountID, model.DirectionDebit).
			Delete(&model.BalanceChange{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// 没有待补偿的扣款
			return nil
		}

		update := tx.Model(&model.Account{}).
			Where("id = ?", accountID).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		// 留一条补偿入账日志做审计，重复插入直接忽略
		audit := &model.BalanceChange{
			Token:     model.CompensateTokenPrefix + orderNo,
			AccountID: accountID,
			Amount:    amount,
			Direction: model.DirectionCredit,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(audit).Error; err != nil {
			return err
		}

		compensated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return compensated, nil
}

// UpdateStatus 账户状态流转（冻结/解冻/销户）
func (r *AccountRepository) UpdateStatus(ctx context.Context, personID int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("person_id = ? AND status = ?", personID, fromStatus).
		Updates(map[string]interface{}{
			"status":  toStatus,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// GetUnreconciledDebits 找出已扣款但始终没有成功流水的订单
// 供补偿任务定时扫描，before 用来避开还在处理中的请求
func (r *AccountRepository) GetUnreconciledDebits(ctx context.Context, before time.Time, limit int) ([]*model.BalanceChange, error) {
	var changes []*model.BalanceChange
	err := r.db.WithContext(ctx).
		Where("direction = ? AND created_at < ?", model.DirectionDebit, before).
		Where("NOT EXISTS (SELECT 1 FROM consume_record WHERE consume_record.order_no = balance_change.token AND consume_record.status = ?)",
			model.RecordStatusSuccess).
		Order("created_at ASC").
		Limit(limit).
		Find(&changes).Error
	return changes, err
}

// GetOrCreate 查询账户，不存在则按默认限额开户
func (r *AccountRepository) GetOrCreate(ctx context.Context, personID int64, defaults *model.Account) (*model.Account, error) {
	account, err := r.GetByPersonID(ctx, personID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		PersonID:     personID,
		Balance:      0,
		SingleLimit:  defaults.SingleLimit,
		DailyLimit:   defaults.DailyLimit,
		MonthlyLimit: defaults.MonthlyLimit,
		Status:       model.AccountStatusActive,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "person_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.GetByPersonID(ctx, personID)
}
