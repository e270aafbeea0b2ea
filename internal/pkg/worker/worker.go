package worker

import (
	"errors"
	"time"

	"sparkdate/internal/domain/promo/model"
	"sparkdate/internal/domain/promo/repository"
	"sparkdate/pkg/logger"
	"sparkdate/pkg/metrics"

	"go.uber.org/zap"
)

// CounterTask used_count 补偿任务
// CountApplied=true 表示递增已成功，只剩流水标记没写上
type CounterTask struct {
	RedemptionID string
	PromoCodeID  string
	CountApplied bool
	Retry        int
}

// RetryPool 计数补偿池：免费开通或回调确认后 used_count 递增失败时，
// 任务进入这里重试；配合定期读修复扫描，保证流水与计数最终一致
type RetryPool struct {
	TaskQueue  chan CounterTask
	RetryQueue chan CounterTask
	Repo       repository.PromoRepository
	WorkerNum  int
	MaxRetry   int
}

func NewRetryPool(repo repository.PromoRepository, workerNum int, bufferSize int) *RetryPool {
	return &RetryPool{
		TaskQueue:  make(chan CounterTask, bufferSize),
		RetryQueue: make(chan CounterTask, bufferSize/2),
		Repo:       repo,
		WorkerNum:  workerNum,
		MaxRetry:   3,
	}
}

func (p *RetryPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		go p.worker(i)
	}
	go p.retryWorker()
	logger.Log.Info("counter repair pool started", zap.Int("workers", p.WorkerNum))
}

// StartSweeper 定期扫描：已完成但未计数的流水重新入队，
// 超过 pendingTTL 还没支付的 pending/applied 流水置为 expired。
// grace 为宽限期，避免和刚提交还在正常路径上的任务抢活
func (p *RetryPool) StartSweeper(interval, grace, pendingTTL time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			p.sweep(grace, pendingTTL)
		}
	}()
}

func (p *RetryPool) sweep(grace, pendingTTL time.Duration) {
	redemptions, err := p.Repo.ListUncountedCompleted(time.Now().Add(-grace), 100)
	if err != nil {
		logger.Log.Error("read-repair sweep failed", zap.Error(err))
		return
	}
	for _, r := range redemptions {
		p.Enqueue(r.ID, r.PromoCodeID, false)
	}
	if len(redemptions) > 0 {
		logger.Log.Warn("read-repair sweep re-queued uncounted redemptions",
			zap.Int("count", len(redemptions)))
	}

	expired, err := p.Repo.ExpireStaleRedemptions(time.Now().Add(-pendingTTL))
	if err != nil {
		logger.Log.Error("stale redemption expiry failed", zap.Error(err))
		return
	}
	if expired > 0 {
		logger.Log.Info("expired abandoned redemptions", zap.Int64("count", expired))
	}
}

// Enqueue 实现 service.CounterRetryQueue
// countApplied 区分"递增没做"和"递增成功但流水没标记"，后者重试时不能再加一次
func (p *RetryPool) Enqueue(redemptionID, promoCodeID string, countApplied bool) {
	p.add(CounterTask{RedemptionID: redemptionID, PromoCodeID: promoCodeID, CountApplied: countApplied})
}

func (p *RetryPool) add(task CounterTask) {
	select {
	case p.TaskQueue <- task:
	default:
		logger.Log.Error("counter repair queue full, task dropped",
			zap.String("redemption_id", task.RedemptionID))
		metrics.CounterRepairTotal.WithLabelValues("dropped").Inc()
	}
}

func (p *RetryPool) worker(id int) {
	for task := range p.TaskQueue {
		err := p.processTask(&task)
		if err == nil {
			metrics.CounterRepairTotal.WithLabelValues("repaired").Inc()
			continue
		}

		if errors.Is(err, repository.ErrCodeExhausted) {
			// 上限保护命中，重试不会有结果。标记流水防止扫描反复捞起
			logger.Log.Error("counter repair hit max_uses cap, marking without increment",
				zap.String("redemption_id", task.RedemptionID))
			if markErr := p.Repo.MarkRedemptionCounted(task.RedemptionID); markErr != nil {
				logger.Log.Error("failed to mark capped redemption", zap.Error(markErr))
			}
			metrics.CounterRepairTotal.WithLabelValues("dropped").Inc()
			continue
		}

		logger.Log.Warn("counter repair task failed",
			zap.Int("worker", id),
			zap.String("redemption_id", task.RedemptionID),
			zap.Int("attempt", task.Retry),
			zap.Error(err))

		if task.Retry < p.MaxRetry {
			task.Retry++
			select {
			case p.RetryQueue <- task:
			default:
				logger.Log.Error("retry queue full, task dropped",
					zap.String("redemption_id", task.RedemptionID))
				metrics.CounterRepairTotal.WithLabelValues("dropped").Inc()
			}
		} else {
			// 放弃主动重试，交给读修复扫描兜底
			logger.Log.Error("counter repair task exceeded max retries",
				zap.String("redemption_id", task.RedemptionID))
			metrics.CounterRepairTotal.WithLabelValues("dropped").Inc()
		}
	}
}

func (p *RetryPool) retryWorker() {
	for task := range p.RetryQueue {
		// 退避后重新入队
		time.Sleep(time.Duration(task.Retry) * time.Second)
		p.add(task)
	}
}

func (p *RetryPool) processTask(task *CounterTask) error {
	// 流水若已被其他路径计数（如扫描和重试赛跑），直接跳过
	redemption, err := p.Repo.GetRedemptionByID(task.RedemptionID)
	if err != nil {
		return err
	}
	if redemption.UsageCounted || redemption.Status != model.RedemptionStatusCompleted {
		return nil
	}

	if !task.CountApplied {
		if err := p.Repo.IncrementUsedCount(task.PromoCodeID); err != nil {
			return err
		}
		task.CountApplied = true
	}
	return p.Repo.MarkRedemptionCounted(task.RedemptionID)
}
