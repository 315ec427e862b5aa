package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/site_structure_server/internal/model"
)

var (
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("analysis job not found")
	// ErrJobNotExhausted 还有剩余尝试次数时 MarkFailed 返回
	ErrJobNotExhausted = errors.New("analysis job still has attempts left")
)

// maxBackoffExponent 限制退避指数上限
const maxBackoffExponent = 12

// BackoffDelay 下次重试前的等待时间：2^attempts 分钟
func BackoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffExponent {
		attempts = maxBackoffExponent
	}
	return time.Duration(math.Pow(2, float64(attempts))) * time.Minute
}

type JobRepository struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{
		db:          db,
		maxAttempts: model.DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxAttempts 设置新建任务的最大尝试次数
func (r *JobRepository) WithMaxAttempts(n int) *JobRepository {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Enqueue 创建任务，已存在时合并到原任务：进行中的任务保留更紧急的优先级，
// 已完成或失败的任务重新排队并重置尝试次数
func (r *JobRepository) Enqueue(ctx context.Context, companyID int64, domain string, priority int) (*model.AnalysisJob, error) {
	if priority <= 0 {
		priority = model.DefaultJobPriority
	}

	var job model.AnalysisJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("company_id = ?", companyID).
			First(&job).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			job = model.AnalysisJob{
				CompanyID:   companyID,
				Domain:      domain,
				Priority:    priority,
				Status:      model.JobStatusQueued,
				MaxAttempts: r.maxAttempts,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "company_id"}},
				DoNothing: true,
			}).Create(&job)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				return nil
			}
			// 并发插入冲突，合并到已存在的行
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("company_id = ?", companyID).
				First(&job).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{"updated_at": now}
		if domain != "" {
			updates["domain"] = domain
		}
		if job.IsTerminal() {
			updates["status"] = model.JobStatusQueued
			updates["priority"] = priority
			updates["attempts"] = 0
			updates["max_attempts"] = r.maxAttempts
			updates["scheduled_for"] = nil
			updates["error_message"] = ""
			updates["completed_at"] = nil
		} else if priority < job.Priority {
			updates["priority"] = priority
		}

		if err := tx.Model(&model.AnalysisJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", job.ID).First(&job).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// DequeueBatch 按优先级领取最多 limit 个可执行任务并标记为 processing。
// 跳过被其他事务锁定的行，并发调用不会拿到同一个任务
func (r *JobRepository) DequeueBatch(ctx context.Context, limit int) ([]*model.AnalysisJob, error) {
	if limit <= 0 {
		limit = 1
	}

	var jobs []*model.AnalysisJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()

		var ids []int64
		err := tx.Model(&model.AnalysisJob{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", model.JobStatusQueued).
			Where("(scheduled_for IS NULL OR scheduled_for <= ?)", now).
			Where("attempts < max_attempts").
			Order("priority ASC").
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		err = tx.Model(&model.AnalysisJob{}).
			Where("id IN ? AND status = ?", ids, model.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":       model.JobStatusProcessing,
				"attempts":     gorm.Expr("attempts + 1"),
				"last_attempt": now,
				"updated_at":   now,
			}).Error
		if err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).
			Order("priority ASC").
			Order("created_at ASC").
			Order("id ASC").
			Find(&jobs).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkStarted 任务真正开始时刷新 last_attempt，避免批次中排队等待的任务被当作遗弃任务。
// 任务已不在 processing 状态（例如已被 RequeueStale 放回队列）时返回 false
func (r *JobRepository) MarkStarted(ctx context.Context, id int64) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.AnalysisJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"last_attempt": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id int64) error {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.JobStatusCompleted,
			"completed_at":  now,
			"updated_at":    now,
			"scheduled_for": nil,
			"error_message": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败，attempts < max_attempts 时拒绝
func (r *JobRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&model.AnalysisJob{}).
		Where("id = ? AND attempts >= max_attempts", id).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": reason,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrJobNotExhausted
	}
	return nil
}

// Reschedule 任务在 2^attempts 分钟后重新排队
func (r *JobRepository) Reschedule(ctx context.Context, id int64, attempts int, reason string) error {
	now := r.now()
	next := now.Add(BackoffDelay(attempts))
	res := r.db.WithContext(ctx).Model(&model.AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.JobStatusQueued,
			"scheduled_for": next,
			"error_message": reason,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RequeueStale 回收 worker 异常退出遗留的 processing 任务，
// 还有尝试次数的重新排队，用完的标记失败
func (r *JobRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (requeued, failed int64, err error) {
	now := r.now()
	cutoff := now.Add(-olderThan)

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AnalysisJob{}).
			Where("status = ? AND last_attempt < ? AND attempts >= max_attempts", model.JobStatusProcessing, cutoff).
			Updates(map[string]interface{}{
				"status":        model.JobStatusFailed,
				"error_message": "worker stopped before the job finished",
				"completed_at":  now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected

		res = tx.Model(&model.AnalysisJob{}).
			Where("status = ? AND last_attempt < ?", model.JobStatusProcessing, cutoff).
			Updates(map[string]interface{}{
				"status":        model.JobStatusQueued,
				"scheduled_for": nil,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	return requeued, failed, err
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) GetByCompanyID(ctx context.Context, companyID int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.WithContext(ctx).Where("company_id = ?", companyID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CountByStatus 统计各状态任务数
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.AnalysisJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
