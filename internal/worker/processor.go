package worker

import (
	"context"
	"errors"
	"time"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/metrics"
	"github.com/qs3c/site_structure_server/internal/pkg/pubsub"
	"github.com/qs3c/site_structure_server/internal/ranking"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/validator"
)

// 任务结果，用作指标标签
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

const (
	defaultJobTimeout = 5 * time.Minute
	bookkeepTimeout   = 10 * time.Second
)

type Discoverer interface {
	Discover(ctx context.Context, domain string) (*discovery.Result, error)
}

type Ranker interface {
	Rank(ctx context.Context, domain string, pages []discovery.Page) ([]ranking.RankedPage, error)
}

type LivenessChecker interface {
	ValidateAll(ctx context.Context, urls []string) ([]validator.Result, error)
}

type SubdomainProber interface {
	Probe(ctx context.Context, domain string) ([]discovery.SubdomainResult, error)
}

type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Processor 任务处理器：发现、排名、校验、子域名探测、归档、存储。
// 可选步骤为 nil 时跳过
type Processor struct {
	jobRepo       *repository.JobRepository
	structureRepo *repository.StructureRepository
	discoverer    Discoverer
	ranker        Ranker
	validator     LivenessChecker
	prober        SubdomainProber
	archiver      *Archiver
	publisher     ProgressPublisher
	metrics       *metrics.Metrics
	jobTimeout    time.Duration
	log           *logger.Logger
}

type ProcessorDeps struct {
	JobRepo       *repository.JobRepository
	StructureRepo *repository.StructureRepository
	Discoverer    Discoverer
	Ranker        Ranker
	Validator     LivenessChecker
	Prober        SubdomainProber
	Archiver      *Archiver
	Publisher     ProgressPublisher
	Metrics       *metrics.Metrics
	JobTimeout    time.Duration
	Logger        *logger.Logger
}

func NewProcessor(deps ProcessorDeps) *Processor {
	timeout := deps.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Processor{
		jobRepo:       deps.JobRepo,
		structureRepo: deps.StructureRepo,
		discoverer:    deps.Discoverer,
		ranker:        deps.Ranker,
		validator:     deps.Validator,
		prober:        deps.Prober,
		archiver:      deps.Archiver,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		jobTimeout:    timeout,
		log:           log,
	}
}

// Process 处理已由 DequeueBatch 领取的任务。出错时记录到任务上：
// 还有尝试次数则退避重试，否则标记失败，并返回错误
func (p *Processor) Process(ctx context.Context, job *model.AnalysisJob) error {
	start := time.Now()
	log := p.log.WithJob(job.ID, job.CompanyID, job.Domain)
	log.WithField("attempt", job.Attempts).Info("analysis started")

	p.metrics.WorkerStarted()
	defer p.metrics.WorkerFinished()

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	s, err := p.analyze(runCtx, job)
	if err != nil {
		return p.handleFailure(ctx, job, err, start)
	}

	if err := p.jobRepo.MarkCompleted(ctx, job.ID); err != nil {
		return p.handleFailure(ctx, job, &stepError{step: pubsub.StepStoring, err: err}, start)
	}

	p.metrics.JobProcessed(OutcomeCompleted, time.Since(start).Seconds())
	p.metrics.Discovered(s.TotalPages, s.TotalSubdomains)
	p.publish(ctx, job, &pubsub.ProgressMessage{Status: model.JobStatusCompleted, Step: pubsub.StepDone, Pages: s.TotalPages})

	log.WithFields(map[string]interface{}{
		"pages":      s.TotalPages,
		"subdomains": s.TotalSubdomains,
		"elapsed":    time.Since(start).String(),
	}).Info("analysis completed")
	return nil
}

// stepError 记录失败发生的步骤
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func (p *Processor) analyze(ctx context.Context, job *model.AnalysisJob) (*model.WebsiteStructure, error) {
	if err := ValidateDomain(job.Domain); err != nil {
		return nil, &stepError{step: pubsub.StepDiscovering, err: err}
	}

	p.publish(ctx, job, &pubsub.ProgressMessage{Status: model.JobStatusProcessing, Step: pubsub.StepDiscovering})
	found, err := p.discoverer.Discover(ctx, job.Domain)
	if err != nil {
		return nil, &stepError{step: pubsub.StepDiscovering, err: err}
	}
	for _, r := range found.Strategies {
		if r.Failed() {
			p.metrics.StrategyFailed(r.Strategy)
		}
	}

	p.publish(ctx, job, &pubsub.ProgressMessage{Status: model.JobStatusProcessing, Step: pubsub.StepRanking, Pages: len(found.Pages)})
	ranked, err := p.ranker.Rank(ctx, job.Domain, found.Pages)
	if err != nil {
		return nil, &stepError{step: pubsub.StepRanking, err: err}
	}

	if p.validator != nil {
		p.publish(ctx, job, &pubsub.ProgressMessage{Status: model.JobStatusProcessing, Step: pubsub.StepValidating, Pages: len(ranked)})
		ranked, err = p.validate(ctx, ranked)
		if err != nil {
			return nil, &stepError{step: pubsub.StepValidating, err: err}
		}
	}

	var subdomains []discovery.SubdomainResult
	if p.prober != nil {
		subdomains, err = p.prober.Probe(ctx, job.Domain)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &stepError{step: pubsub.StepDiscovering, err: err}
			}
			p.log.WithJob(job.ID, job.CompanyID, job.Domain).WithError(err).Warn("subdomain probe failed")
		}
	}

	s := buildStructure(job, found.SitemapURL, ranked, subdomains)

	p.publish(ctx, job, &pubsub.ProgressMessage{Status: model.JobStatusProcessing, Step: pubsub.StepStoring, Pages: s.TotalPages})
	if p.archiver != nil {
		archiveURL, err := p.archiver.Archive(s)
		if err != nil {
			p.log.WithJob(job.ID, job.CompanyID, job.Domain).WithError(err).Warn("structure snapshot not archived")
		}
		s.ArchiveURL = archiveURL
	}

	if err := p.structureRepo.StoreWebsiteStructure(ctx, s); err != nil {
		return nil, &stepError{step: pubsub.StepStoring, err: err}
	}
	return s, nil
}

// validate 去掉校验不通过的页面，并补全校验得到的信息
func (p *Processor) validate(ctx context.Context, ranked []ranking.RankedPage) ([]ranking.RankedPage, error) {
	urls := make([]string, len(ranked))
	for i, rp := range ranked {
		urls[i] = rp.URL
	}

	results, err := p.validator.ValidateAll(ctx, urls)
	if err != nil {
		return nil, err
	}

	kept := ranked[:0]
	for i, rp := range ranked {
		res := results[i]
		if !res.Keep {
			continue
		}
		if res.Title != "" && rp.Title == "" {
			rp.Title = res.Title
		}
		kept = append(kept, rp)
	}
	return kept, nil
}

func (p *Processor) handleFailure(ctx context.Context, job *model.AnalysisJob, err error, start time.Time) error {
	step := pubsub.StepDiscovering
	var se *stepError
	if errors.As(err, &se) {
		step = se.step
	}
	ae := classifyError(step, err)
	reason := ae.Error()

	// 运行 ctx 可能已取消，状态更新使用独立 ctx
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepTimeout)
	defer cancel()

	log := p.log.WithJob(job.ID, job.CompanyID, job.Domain).WithField("attempt", job.Attempts)

	outcome := OutcomeRetried
	status := model.JobStatusQueued
	if job.Exhausted() {
		markErr := p.jobRepo.MarkFailed(bctx, job.ID, reason)
		switch {
		case markErr == nil:
			outcome = OutcomeFailed
			status = model.JobStatusFailed
		case errors.Is(markErr, repository.ErrJobNotExhausted):
			markErr = p.jobRepo.Reschedule(bctx, job.ID, job.Attempts, reason)
		}
		if markErr != nil {
			log.WithError(markErr).Error("failed to record job failure")
		}
	} else if rerr := p.jobRepo.Reschedule(bctx, job.ID, job.Attempts, reason); rerr != nil {
		log.WithError(rerr).Error("failed to reschedule job")
	}

	p.metrics.JobProcessed(outcome, time.Since(start).Seconds())
	p.publish(bctx, job, &pubsub.ProgressMessage{
		Status:  status,
		Step:    step,
		Message: ae.UserMessage,
		Error:   reason,
	})

	if outcome == OutcomeFailed {
		log.WithError(err).Error("analysis failed permanently")
	} else {
		log.WithError(err).WithField("retry_in", repository.BackoffDelay(job.Attempts).String()).Warn("analysis failed, will retry")
	}
	return ae
}

func (p *Processor) publish(ctx context.Context, job *model.AnalysisJob, msg *pubsub.ProgressMessage) {
	if p.publisher == nil {
		return
	}
	msg.CompanyID = job.CompanyID
	msg.JobID = job.ID
	msg.Domain = job.Domain
	msg.Attempt = job.Attempts
	if err := p.publisher.PublishProgress(ctx, msg); err != nil {
		p.log.WithJob(job.ID, job.CompanyID, job.Domain).WithError(err).Debug("progress publish failed")
	}
}
