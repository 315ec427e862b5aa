package worker

import (
	"context"
	"sync"
	"time"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/repository"
)

const (
	defaultWorkers      = 4
	defaultBatchSize    = 5
	defaultPollInterval = 5 * time.Second
)

// JobProcessor 任务处理接口
type JobProcessor interface {
	Process(ctx context.Context, job *model.AnalysisJob) error
}

// Waker 有任务入队时唤醒空闲 worker
type Waker interface {
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

type PoolConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
}

// Pool worker 池，每个 worker 领取一批任务依次处理，队列为空时最多等待 PollInterval
type Pool struct {
	jobRepo   *repository.JobRepository
	processor JobProcessor
	waker     Waker
	cfg       PoolConfig
	log       *logger.Logger
}

func NewPool(jobRepo *repository.JobRepository, processor JobProcessor, cfg PoolConfig, log *logger.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if log == nil {
		log = logger.Default()
	}
	return &Pool{jobRepo: jobRepo, processor: processor, cfg: cfg, log: log}
}

// WithWaker 空闲 worker 阻塞等待 w 的通知而不是休眠
func (p *Pool) WithWaker(w Waker) *Pool {
	p.waker = w
	return p
}

// Run 阻塞运行，ctx 结束且所有 worker 完成当前任务后返回
func (p *Pool) Run(ctx context.Context) {
	p.log.WithFields(logger.Fields{
		"workers":       p.cfg.Workers,
		"batch_size":    p.cfg.BatchSize,
		"poll_interval": p.cfg.PollInterval.String(),
	}).Info("worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.WithFields(logger.Fields{"worker": workerID, "error": err.Error()}).Warn("dequeue failed")
		}
		if n > 0 {
			continue
		}
		p.idle(ctx, workerID)
	}
}

func (p *Pool) idle(ctx context.Context, workerID int) {
	if p.waker != nil {
		_, err := p.waker.Wait(ctx, p.cfg.PollInterval)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.log.WithFields(logger.Fields{"worker": workerID, "error": err.Error()}).Debug("wake wait failed, sleeping")
	}

	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

// RunOnce 领取并处理一批任务，返回领取数量。
// 单个任务失败由 processor 记录，不影响同批其他任务
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	jobs, err := p.jobRepo.DequeueBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for i, job := range jobs {
		if ctx.Err() != nil {
			// 已领取未开始的任务由 RequeueStale 回收
			p.log.WithFields(logger.Fields{"unstarted": len(jobs) - i}).Warn("shutdown with claimed jobs")
			break
		}
		started, err := p.jobRepo.MarkStarted(ctx, job.ID)
		if err != nil {
			p.log.WithJob(job.ID, job.CompanyID, job.Domain).WithError(err).Warn("failed to mark job started")
		} else if !started {
			p.log.WithJob(job.ID, job.CompanyID, job.Domain).Warn("job left processing before it started, skipping")
			continue
		}
		_ = p.processor.Process(ctx, job)
	}
	return len(jobs), nil
}
