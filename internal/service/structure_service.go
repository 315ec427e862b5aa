package service

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/qs3c/site_structure_server/config"
	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/model/dto"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/metrics"
	"github.com/qs3c/site_structure_server/internal/repository"
)

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrNoWebsite       = errors.New("company has no usable website")
	ErrJobNotFound     = errors.New("no analysis job for this company")
)

// ForcedRefreshPriority 强制刷新未指定优先级时使用
const ForcedRefreshPriority = 1

const (
	MessageQueued      = "analysis in progress, check back later"
	MessageUnavailable = "no data available"

	defaultPageSize = 20
	maxPageSize     = 100

	backgroundTimeout = 10 * time.Second
)

// 入队来源，用作指标标签
const (
	SourceRead    = "read"
	SourceRefresh = "refresh"
	SourceBulk    = "bulk"
	SourceStale   = "stale"
)

// JobNotifier 通知空闲 worker 有任务待处理，*queue.Queue 实现了该接口
type JobNotifier interface {
	NotifyEnqueued(ctx context.Context, job *model.AnalysisJob) error
}

type StructureService struct {
	structureRepo *repository.StructureRepository
	jobRepo       *repository.JobRepository
	companyRepo   *repository.CompanyRepository
	metrics       *metrics.Metrics
	cfg           *config.Config
	log           *logger.Logger
	notifier      JobNotifier
	now           func() time.Time
	async         func(func())
}

func NewStructureService(
	structureRepo *repository.StructureRepository,
	jobRepo *repository.JobRepository,
	companyRepo *repository.CompanyRepository,
	m *metrics.Metrics,
	cfg *config.Config,
	log *logger.Logger,
) *StructureService {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Default()
	}
	return &StructureService{
		structureRepo: structureRepo,
		jobRepo:       jobRepo,
		companyRepo:   companyRepo,
		metrics:       m,
		cfg:           cfg,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		async:         func(f func()) { go f() },
	}
}

// WithNotifier 读取和刷新入队后通知 worker，无需等待下一次轮询
func (s *StructureService) WithNotifier(n JobNotifier) *StructureService {
	s.notifier = n
	return s
}

func (s *StructureService) notify(ctx context.Context, job *model.AnalysisJob) {
	if s.notifier == nil || job == nil || job.Status != model.JobStatusQueued {
		return
	}
	if err := s.notifier.NotifyEnqueued(ctx, job); err != nil {
		s.log.WithFields(logger.Fields{"job_id": job.ID, "error": err.Error()}).Warn("job notification failed")
	}
}

// GetStructure 获取网站结构。已有结构即使过期也直接返回，过期的在后台重新入队；
// 没有结构时加入队列并提示稍后重试，任务已永久失败时返回不可用
func (s *StructureService) GetStructure(ctx context.Context, companyID int64) (*dto.StructureResponse, error) {
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	domain := ExtractDomain(company.Website)

	cached, err := s.structureRepo.GetCachedStructure(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if cached != nil {
		needsRefresh := repository.StructureNeedsRefresh(cached, s.now())
		if needsRefresh && domain != "" {
			s.enqueueInBackground(companyID, domain)
		}
		return &dto.StructureResponse{
			Status:       dto.StructureReady,
			NeedsRefresh: needsRefresh,
			LastAnalyzed: cached.LastAnalyzed,
			NextAnalysis: cached.NextAnalysis,
			Structure:    cached,
		}, nil
	}

	job, err := s.jobRepo.GetByCompanyID(ctx, companyID)
	if err != nil && !errors.Is(err, repository.ErrJobNotFound) {
		return nil, err
	}
	if job != nil && job.Status == model.JobStatusFailed {
		return &dto.StructureResponse{Status: dto.StructureUnavailable, Message: MessageUnavailable, NeedsRefresh: true}, nil
	}
	if domain == "" {
		return &dto.StructureResponse{Status: dto.StructureUnavailable, Message: MessageUnavailable, NeedsRefresh: true}, nil
	}

	if job == nil || job.Status == model.JobStatusCompleted {
		job, err := s.jobRepo.Enqueue(ctx, companyID, domain, s.cfg.Refresh.DefaultPriority)
		if err != nil {
			return nil, err
		}
		s.metrics.JobEnqueued(SourceRead)
		s.notify(ctx, job)
	}
	return &dto.StructureResponse{Status: dto.StructureQueued, Message: MessageQueued, NeedsRefresh: true}, nil
}

func (s *StructureService) enqueueInBackground(companyID int64, domain string) {
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if _, err := s.jobRepo.Enqueue(ctx, companyID, domain, s.cfg.Refresh.DefaultPriority); err != nil {
			s.log.WithFields(logger.Fields{"company_id": companyID, "error": err.Error()}).Warn("background refresh enqueue failed")
			return
		}
		s.metrics.JobEnqueued(SourceRead)
	})
}

// RequestRefresh 强制重新分析，默认使用 ForcedRefreshPriority
func (s *StructureService) RequestRefresh(ctx context.Context, companyID int64, priority *int) (*dto.JobStatusResponse, error) {
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	domain := ExtractDomain(company.Website)
	if domain == "" {
		return nil, ErrNoWebsite
	}

	p := ForcedRefreshPriority
	if priority != nil && *priority > 0 {
		p = *priority
	}

	job, err := s.jobRepo.Enqueue(ctx, companyID, domain, p)
	if err != nil {
		return nil, err
	}
	s.metrics.JobEnqueued(SourceRefresh)
	s.notify(ctx, job)

	s.log.WithFields(logger.Fields{"company_id": companyID, "domain": domain, "priority": job.Priority}).Info("refresh requested")
	return toJobStatus(job), nil
}

// EnqueueAll 为所有有网站的公司入队，无法解析出域名的跳过
func (s *StructureService) EnqueueAll(ctx context.Context) (*dto.EnqueueAllResponse, error) {
	batch := s.cfg.Refresh.BatchSize
	if batch <= 0 {
		batch = 100
	}

	resp := &dto.EnqueueAllResponse{}
	var afterID int64
	for {
		companies, err := s.companyRepo.ListWithWebsite(ctx, afterID, batch)
		if err != nil {
			return resp, err
		}
		if len(companies) == 0 {
			break
		}

		for _, c := range companies {
			afterID = c.ID
			domain := ExtractDomain(c.Website)
			if domain == "" {
				resp.Skipped++
				continue
			}
			if _, err := s.jobRepo.Enqueue(ctx, c.ID, domain, s.cfg.Refresh.DefaultPriority); err != nil {
				return resp, err
			}
			s.metrics.JobEnqueued(SourceBulk)
			resp.Enqueued++
		}

		if len(companies) < batch {
			break
		}
	}

	s.log.WithFields(logger.Fields{"enqueued": resp.Enqueued, "skipped": resp.Skipped}).Info("bulk enqueue finished")
	return resp, nil
}

// EnqueueStale 将最多 limit 个已到期的公司重新入队
func (s *StructureService) EnqueueStale(ctx context.Context, limit int) (int, error) {
	ids, err := s.structureRepo.ListStaleCompanyIDs(ctx, limit)
	if err != nil {
		return 0, err
	}
	companies, err := s.companyRepo.GetByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, c := range companies {
		domain := ExtractDomain(c.Website)
		if domain == "" {
			continue
		}
		if _, err := s.jobRepo.Enqueue(ctx, c.ID, domain, s.cfg.Refresh.DefaultPriority); err != nil {
			return enqueued, err
		}
		s.metrics.JobEnqueued(SourceStale)
		enqueued++
	}
	return enqueued, nil
}

func (s *StructureService) JobStatus(ctx context.Context, companyID int64) (*dto.JobStatusResponse, error) {
	job, err := s.jobRepo.GetByCompanyID(ctx, companyID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return toJobStatus(job), nil
}

// ListPages 分页从 1 开始，每页默认 20 条，最多 100 条
func (s *StructureService) ListPages(ctx context.Context, companyID int64, pageType string, page, pageSize int) ([]model.WebsitePage, int64, int, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	if _, err := s.company(ctx, companyID); err != nil {
		return nil, 0, page, pageSize, err
	}

	pages, total, err := s.structureRepo.ListPages(ctx, companyID, strings.ToLower(pageType), page, pageSize)
	return pages, total, page, pageSize, err
}

func (s *StructureService) HighValuePages(ctx context.Context, f dto.HighValuePageFilter) ([]dto.HighValuePage, error) {
	if f.Domain != "" {
		f.Domain = ExtractDomain(f.Domain)
	}
	return s.structureRepo.HighValuePages(ctx, f)
}

func (s *StructureService) BISummary(ctx context.Context, f dto.BISummaryFilter) ([]dto.BISummaryRow, error) {
	return s.structureRepo.BusinessIntelligenceSummary(ctx, f)
}

func (s *StructureService) company(ctx context.Context, companyID int64) (*model.Company, error) {
	company, err := s.companyRepo.GetByID(ctx, companyID)
	if errors.Is(err, repository.ErrCompanyNotFound) {
		return nil, ErrCompanyNotFound
	}
	return company, err
}

// ExtractDomain 从网站地址提取域名：去掉协议、"www."、端口和路径并转小写，
// 无法提取时返回 ""
func ExtractDomain(website string) string {
	w := strings.TrimSpace(website)
	if w == "" {
		return ""
	}
	if !strings.Contains(w, "://") {
		w = "http://" + w
	}
	u, err := url.Parse(w)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || strings.ContainsAny(host, " _") {
		return ""
	}
	if !strings.Contains(host, ".") && net.ParseIP(host) == nil && host != "localhost" {
		return ""
	}
	return host
}

func toJobStatus(job *model.AnalysisJob) *dto.JobStatusResponse {
	return &dto.JobStatusResponse{
		JobID:        job.ID,
		CompanyID:    job.CompanyID,
		Domain:       job.Domain,
		Status:       job.Status,
		Priority:     job.Priority,
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		ScheduledFor: job.ScheduledFor,
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}
}
