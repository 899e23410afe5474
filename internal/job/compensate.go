package job

import (
	"context"
	"log"
	"time"

	"consumesystem/internal/config"
	"consumesystem/internal/repository"

	"gorm.io/gorm"
)

// DebitCompensateJob 扣款补偿任务
//
// 正常情况下流水落库失败时引擎会就地把钱退回去，
// 但进程如果恰好在"扣款成功、流水未落库"之后崩溃，这笔扣款就悬空了。
// 本任务定时扫描超过滞后窗口仍没有成功流水的扣款日志，把钱退回账户。
// 补偿原语幂等，和引擎内的就地补偿并发执行也只会退一次
type DebitCompensateJob struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewDebitCompensateJob(db *gorm.DB, cfg *config.Config) *DebitCompensateJob {
	return &DebitCompensateJob{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    30 * time.Second,
		batchSize:   50,
	}
}

func (j *DebitCompensateJob) Start(ctx context.Context) {
	log.Println("[DebitCompensateJob] 扣款补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DebitCompensateJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DebitCompensateJob] 任务停止")
			return
		case <-ticker.C:
			j.compensateOrphanDebits(ctx)
		}
	}
}

func (j *DebitCompensateJob) Stop() {
	close(j.stopCh)
}

func (j *DebitCompensateJob) compensateOrphanDebits(ctx context.Context) {
	lag := time.Duration(j.cfg.Business.CompensateScanMinutes) * time.Minute
	before := time.Now().Add(-lag)

	debits, err := j.accountRepo.GetUnreconciledDebits(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[DebitCompensateJob] 查询悬空扣款失败: %v", err)
		return
	}

	if len(debits) == 0 {
		return
	}

	log.Printf("[DebitCompensateJob] 发现 %d 笔悬空扣款", len(debits))

	for _, debit := range debits {
		compensated, err := j.accountRepo.CompensateDebit(ctx, debit.AccountID, debit.Amount, debit.Token)
		if err != nil {
			log.Printf("[DebitCompensateJob] 补偿失败: orderNo=%s, accountID=%d, err=%v",
				debit.Token, debit.AccountID, err)
			continue
		}
		if compensated {
			log.Printf("[DebitCompensateJob] 补偿成功: orderNo=%s, accountID=%d, amount=%d",
				debit.Token, debit.AccountID, debit.Amount)
		}
	}
}
