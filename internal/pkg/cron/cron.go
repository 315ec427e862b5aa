package cron

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qs3c/site_structure_server/config"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/metrics"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/service"
)

const (
	requeueSchedule    = "@every 5m"
	queueDepthSchedule = "@every 30s"
	cleanupSchedule    = "@every 1h"

	jobTimeout = 2 * time.Minute
)

// Service 定时任务服务：队列维护和快照清理
type Service struct {
	cron          *cron.Cron
	structureSvc  *service.StructureService
	jobRepo       *repository.JobRepository
	structureRepo *repository.StructureRepository
	metrics       *metrics.Metrics
	cfg           *config.Config
	log           *logger.Logger
}

func NewService(
	structureSvc *service.StructureService,
	jobRepo *repository.JobRepository,
	structureRepo *repository.StructureRepository,
	m *metrics.Metrics,
	cfg *config.Config,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		cron:          cron.New(),
		structureSvc:  structureSvc,
		jobRepo:       jobRepo,
		structureRepo: structureRepo,
		metrics:       m,
		cfg:           cfg,
		log:           log,
	}
}

// Start 注册并启动定时任务
func (s *Service) Start() error {
	schedule := s.cfg.Refresh.Schedule
	if schedule == "" {
		schedule = "@every 1h"
	}

	jobs := []struct {
		spec string
		fn   func(context.Context)
	}{
		{schedule, s.refreshStale},
		{requeueSchedule, s.requeueStale},
		{queueDepthSchedule, s.updateQueueDepth},
		{cleanupSchedule, s.cleanupArchives},
	}
	for _, j := range jobs {
		fn := j.fn
		if _, err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			fn(ctx)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.WithFields(logger.Fields{"refresh_schedule": schedule}).Info("cron service started")
	return nil
}

// Stop 停止定时任务，等待执行中的任务结束
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron service stopped")
}

// RunNow 同步执行刷新和回收任务
func (s *Service) RunNow(ctx context.Context) {
	s.requeueStale(ctx)
	s.refreshStale(ctx)
	s.updateQueueDepth(ctx)
}

func (s *Service) refreshStale(ctx context.Context) {
	limit := s.cfg.Refresh.BatchSize
	if limit <= 0 {
		limit = 100
	}
	n, err := s.structureSvc.EnqueueStale(ctx, limit)
	if err != nil {
		s.log.WithFields(logger.Fields{"error": err.Error(), "enqueued": n}).Error("stale refresh failed")
		return
	}
	if n > 0 {
		s.log.WithFields(logger.Fields{"enqueued": n}).Info("stale structures re-enqueued")
	}
}

func (s *Service) requeueStale(ctx context.Context) {
	olderThan := s.cfg.Queue.StaleAfter
	if olderThan <= 0 {
		olderThan = 30 * time.Minute
	}
	requeued, failed, err := s.jobRepo.RequeueStale(ctx, olderThan)
	if err != nil {
		s.log.WithFields(logger.Fields{"error": err.Error()}).Error("stale job recovery failed")
		return
	}
	if requeued+failed > 0 {
		s.log.WithFields(logger.Fields{"requeued": requeued, "failed": failed}).Warn("recovered abandoned jobs")
	}
}

func (s *Service) updateQueueDepth(ctx context.Context) {
	counts, err := s.jobRepo.CountByStatus(ctx)
	if err != nil {
		s.log.WithFields(logger.Fields{"error": err.Error()}).Warn("queue depth query failed")
		return
	}
	s.metrics.SetQueueDepth(counts)
}

// cleanupArchives 清理过期且不再被引用的本地快照
func (s *Service) cleanupArchives(ctx context.Context) {
	n := s.cleanupLocalArchives(ctx)
	if n > 0 {
		s.log.WithFields(logger.Fields{"removed": n}).Info("local snapshots cleaned up")
	}
}

func (s *Service) cleanupLocalArchives(ctx context.Context) int {
	dir := s.cfg.Archive.LocalDir
	if dir == "" {
		return 0
	}
	expireHours := s.cfg.Archive.ExpireHours
	if expireHours <= 0 {
		expireHours = 1
	}
	expire := time.Duration(expireHours) * time.Hour

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithFields(logger.Fields{"dir": dir, "error": err.Error()}).Warn("cleanup: failed to read archive dir")
		}
		return 0
	}

	referenced, err := s.referencedSnapshots(ctx)
	if err != nil {
		s.log.WithFields(logger.Fields{"error": err.Error()}).Warn("cleanup: failed to list referenced snapshots")
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= expire {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.WithFields(logger.Fields{"path": path, "error": err.Error()}).Warn("cleanup: failed to remove snapshot")
			continue
		}
		cleaned++
	}
	return cleaned
}

func (s *Service) referencedSnapshots(ctx context.Context) (map[string]bool, error) {
	rows, err := s.structureRepo.ListLocalArchives(ctx, -1)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(rows))
	for _, r := range rows {
		names[filepath.Base(r.ArchiveURL[len(repository.LocalArchivePrefix):])] = true
	}
	return names, nil
}
