package service

import (
	"context"
	"errors"

	"consumesystem/internal/config"
	"consumesystem/internal/model"
	"consumesystem/internal/repository"
	"consumesystem/pkg/idgen"

	"gorm.io/gorm"
)

type AccountService struct {
	accountRepo *repository.AccountRepository
	cfg         *config.Config
}

func NewAccountService(db *gorm.DB, cfg *config.Config) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		cfg:         cfg,
	}
}

func (s *AccountService) GetAccount(ctx context.Context, personID int64) (*model.Account, error) {
	return s.accountRepo.GetByPersonID(ctx, personID)
}

func (s *AccountService) GetBalance(ctx context.Context, personID int64) (int64, error) {
	account, err := s.accountRepo.GetByPersonID(ctx, personID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// Recharge 余额充值（外部充值渠道回调的落账入口）
// 首次充值按默认限额开户，token 用充值流水号，重复回调不会重复入账
func (s *AccountService) Recharge(ctx context.Context, personID int64, amount int64, token string) error {
	if amount <= 0 {
		return errors.New("充值金额必须大于0")
	}
	if token == "" {
		token = idgen.GenerateTransactionNo()
	}

	defaults := &model.Account{
		SingleLimit:  s.cfg.Business.DefaultSingleLimit,
		DailyLimit:   s.cfg.Business.DefaultDailyLimit,
		MonthlyLimit: s.cfg.Business.DefaultMonthlyLimit,
	}
	account, err := s.accountRepo.GetOrCreate(ctx, personID, defaults)
	if err != nil {
		return err
	}

	_, err = s.accountRepo.CreditBalance(ctx, account.ID, amount, token)
	return err
}

// Freeze 冻结账户，冻结后消费一律拒绝
func (s *AccountService) Freeze(ctx context.Context, personID int64) error {
	return s.accountRepo.UpdateStatus(ctx, personID, model.AccountStatusActive, model.AccountStatusFrozen)
}

// Unfreeze 解冻账户
func (s *AccountService) Unfreeze(ctx context.Context, personID int64) error {
	return s.accountRepo.UpdateStatus(ctx, personID, model.AccountStatusFrozen, model.AccountStatusActive)
}

// Cancel 销户，终态，不可恢复
func (s *AccountService) Cancel(ctx context.Context, personID int64) error {
	account, err := s.accountRepo.GetByPersonID(ctx, personID)
	if err != nil {
		return err
	}
	return s.accountRepo.UpdateStatus(ctx, personID, account.Status, model.AccountStatusCancelled)
}
