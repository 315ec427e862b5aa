package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/repository"
)

// SnapshotUploader 上传结构快照并返回 URL，*oss.Client 实现了该接口
type SnapshotUploader interface {
	UploadStructure(companyID int64, data []byte) (string, error)
}

// Archiver 结构快照归档，配置了上传器时上传，否则写本地目录
type Archiver struct {
	uploader SnapshotUploader
	localDir string
}

func NewArchiver(uploader SnapshotUploader, localDir string) *Archiver {
	return &Archiver{uploader: uploader, localDir: localDir}
}

// Archive 归档并返回快照地址
func (a *Archiver) Archive(s *model.WebsiteStructure) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode structure snapshot: %w", err)
	}

	if a.uploader != nil {
		return a.uploader.UploadStructure(s.CompanyID, data)
	}

	if a.localDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.localDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}
	name := localSnapshotName(s.CompanyID)
	if err := os.WriteFile(filepath.Join(a.localDir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to save structure snapshot locally: %w", err)
	}
	return repository.LocalArchivePrefix + name, nil
}

func localSnapshotName(companyID int64) string {
	return strconv.FormatInt(companyID, 10) + ".json"
}

// LocalSnapshotPath 将 local:// 地址解析为 dir 下的路径
func LocalSnapshotPath(dir, archiveURL string) (string, bool) {
	if !strings.HasPrefix(archiveURL, repository.LocalArchivePrefix) {
		return "", false
	}
	name := filepath.Base(strings.TrimPrefix(archiveURL, repository.LocalArchivePrefix))
	if name == "." || name == "/" {
		return "", false
	}
	return filepath.Join(dir, name), true
}
