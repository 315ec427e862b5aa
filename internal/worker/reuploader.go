package worker

import (
	"context"
	"os"
	"time"

	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/repository"
)

const (
	reuploadInterval  = 5 * time.Minute
	reuploadBatchSize = 50
)

// Reuploader 将 OSS 不可用时保存在本地的快照迁移到 OSS，并更新结构的快照地址
type Reuploader struct {
	structureRepo *repository.StructureRepository
	uploader      SnapshotUploader
	localDir      string
	log           *logger.Logger
}

func NewReuploader(
	structureRepo *repository.StructureRepository,
	uploader SnapshotUploader,
	localDir string,
	log *logger.Logger,
) *Reuploader {
	if log == nil {
		log = logger.Default()
	}
	return &Reuploader{
		structureRepo: structureRepo,
		uploader:      uploader,
		localDir:      localDir,
		log:           log,
	}
}

// Start 立即执行一次，之后每 reuploadInterval 执行一次，直到 ctx 结束
func (r *Reuploader) Start(ctx context.Context) {
	r.Run(ctx)

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reuploader stopped")
			return
		case <-ticker.C:
			r.Run(ctx)
		}
	}
}

// Run 上传一批快照，返回迁移数量
func (r *Reuploader) Run(ctx context.Context) int {
	rows, err := r.structureRepo.ListLocalArchives(ctx, reuploadBatchSize)
	if err != nil {
		r.log.WithFields(logger.Fields{"error": err.Error()}).Warn("reuploader: failed to list local snapshots")
		return 0
	}

	moved := 0
	for _, s := range rows {
		fields := logger.Fields{"company_id": s.CompanyID}

		localPath, ok := LocalSnapshotPath(r.localDir, s.ArchiveURL)
		if !ok {
			continue
		}
		data, err := os.ReadFile(localPath)
		if err != nil {
			fields["error"] = err.Error()
			r.log.WithFields(fields).Warn("reuploader: failed to read local snapshot")
			continue
		}

		url, err := r.uploader.UploadStructure(s.CompanyID, data)
		if err != nil {
			fields["error"] = err.Error()
			r.log.WithFields(fields).Warn("reuploader: upload failed")
			continue
		}

		if err := r.structureRepo.UpdateArchiveURL(ctx, s.CompanyID, url); err != nil {
			fields["error"] = err.Error()
			r.log.WithFields(fields).Warn("reuploader: failed to update archive url")
			continue
		}

		_ = os.Remove(localPath)
		moved++
	}

	if moved > 0 {
		r.log.WithFields(logger.Fields{"moved": moved}).Info("reuploader: snapshots moved to OSS")
	}
	return moved
}
