package job

import (
	"context"
	"log"
	"time"

	"paysettle/internal/metrics"
	"paysettle/internal/model"
)

// PendingLister 列出长时间未结算的交易
type PendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Transaction, error)
}

// Reconciler 主动轮询网关并对账
type Reconciler interface {
	Reconcile(ctx context.Context, orderReference string) (bool, error)
}

// PendingReconcileJob 回调丢失时的兜底：定期轮询超过 olderThan 仍为 PENDING 的交易
type PendingReconcileJob struct {
	lister     PendingLister
	reconciler Reconciler
	stopCh     chan struct{}
	interval   time.Duration
	olderThan  time.Duration
	batchSize  int
}

func NewPendingReconcileJob(lister PendingLister, reconciler Reconciler, interval, olderThan time.Duration, batchSize int) *PendingReconcileJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &PendingReconcileJob{
		lister:     lister,
		reconciler: reconciler,
		stopCh:     make(chan struct{}),
		interval:   interval,
		olderThan:  olderThan,
		batchSize:  batchSize,
	}
}

func (j *PendingReconcileJob) Start(ctx context.Context) {
	log.Println("[PendingReconcileJob] 待结算交易对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PendingReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PendingReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *PendingReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 处理一批，返回本批结算成功的笔数
func (j *PendingReconcileJob) RunOnce(ctx context.Context) int {
	txns, err := j.lister.ListStalePending(ctx, j.olderThan, j.batchSize)
	if err != nil {
		log.Printf("[PendingReconcileJob] 查询待结算交易失败: %v", err)
		return 0
	}
	if len(txns) == 0 {
		return 0
	}

	log.Printf("[PendingReconcileJob] 发现 %d 笔待结算交易", len(txns))

	settled := 0
	for _, txn := range txns {
		if ctx.Err() != nil {
			break
		}
		ok, err := j.reconciler.Reconcile(ctx, txn.OrderReference)
		if err != nil {
			log.Printf("[PendingReconcileJob] 对账失败: orderReference=%s, err=%v", txn.OrderReference, err)
			continue
		}
		if ok {
			settled++
			metrics.PendingReconcileSettled.Inc()
			log.Printf("[PendingReconcileJob] 交易已通过轮询结算: orderReference=%s", txn.OrderReference)
		}
	}

	log.Printf("[PendingReconcileJob] 本次结算 %d 笔交易", settled)
	return settled
}
