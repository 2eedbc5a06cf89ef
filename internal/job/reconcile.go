package job

import (
	"context"
	"log"
	"time"

	"bonusledger/internal/config"
	"bonusledger/internal/repository"

	"gorm.io/gorm"
)

// ReconcileJob 余额对账任务
//
// 账本不变式：balance == SUM(流水.amount)
// 记账路径已经靠事务保证这一点，对账任务是最后一道防线：
// 周期性抽查账户，重算流水合计和余额比对，
// 发现不一致只告警不自动修，留给人工定位根因
type ReconcileJob struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
	cursor          int64 // 上一轮扫到的账户ID，循环扫描
}

func NewReconcileJob(db *gorm.DB, cfg *config.Config) *ReconcileJob {
	interval := 60 * time.Second
	if cfg.Business.ReconcileIntervalSec > 0 {
		interval = time.Duration(cfg.Business.ReconcileIntervalSec) * time.Second
	}
	batchSize := 50
	if cfg.Business.ReconcileBatchSize > 0 {
		batchSize = cfg.Business.ReconcileBatchSize
	}

	return &ReconcileJob{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        interval,
		batchSize:       batchSize,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Println("[ReconcileJob] 余额对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileBatch(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileJob) reconcileBatch(ctx context.Context) {
	accounts, err := j.accountRepo.ListAfterID(ctx, j.cursor, j.batchSize)
	if err != nil {
		log.Printf("[ReconcileJob] 查询账户失败: %v", err)
		return
	}

	if len(accounts) == 0 {
		// 扫完一轮，从头开始
		j.cursor = 0
		return
	}

	mismatch := 0
	for _, account := range accounts {
		before, err := j.accountRepo.GetByID(ctx, account.ID)
		if err != nil {
			continue
		}

		sum, err := j.transactionRepo.SumAmountByAccountID(ctx, account.ID)
		if err != nil {
			log.Printf("[ReconcileJob] 汇总流水失败: accountID=%d, err=%v", account.ID, err)
			continue
		}

		// 比对期间账户可能正被并发记账，余额和流水合计会一起变。
		// 重读版本号，变了说明有并发写，这一轮跳过该账户
		after, err := j.accountRepo.GetByID(ctx, account.ID)
		if err != nil || after.Version != before.Version {
			continue
		}
		if !after.Balance.Equal(sum) {
			mismatch++
			log.Printf("[ReconcileJob][严重] 余额与流水不一致: accountID=%d, balance=%s, sum=%s",
				account.ID, after.Balance.String(), sum.String())
		}
	}

	j.cursor = accounts[len(accounts)-1].ID
	if mismatch > 0 {
		log.Printf("[ReconcileJob] 本轮发现 %d 个不一致账户", mismatch)
	}
}
