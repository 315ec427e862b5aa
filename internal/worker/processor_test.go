package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/site_structure_server/internal/discovery"
	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/pubsub"
	"github.com/qs3c/site_structure_server/internal/ranking"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/testutil"
	"github.com/qs3c/site_structure_server/internal/validator"
)

type fakeDiscoverer struct {
	result *discovery.Result
	err    error
}

func (f *fakeDiscoverer) Discover(ctx context.Context, domain string) (*discovery.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeChecker struct {
	drop map[string]bool
}

func (f *fakeChecker) ValidateAll(ctx context.Context, urls []string) ([]validator.Result, error) {
	out := make([]validator.Result, len(urls))
	for i, u := range urls {
		out[i] = validator.Result{URL: u, Outcome: validator.OutcomeValid, Keep: true, StatusCode: 200}
		if f.drop[u] {
			out[i] = validator.Result{URL: u, Outcome: validator.OutcomeInvalid, StatusCode: 404}
		}
	}
	return out, nil
}

type fakeProber struct {
	subs []discovery.SubdomainResult
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, domain string) ([]discovery.SubdomainResult, error) {
	return f.subs, f.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []pubsub.ProgressMessage
}

func (r *recordingPublisher) PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, *msg)
	return nil
}

func (r *recordingPublisher) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Step
	}
	return out
}

func discoveredPages() *discovery.Result {
	return &discovery.Result{
		Domain:     "acme.com",
		SitemapURL: "https://acme.com/sitemap.xml",
		Pages: []discovery.Page{
			{URL: "https://acme.com/", Title: "Home", Priority: 1, Source: discovery.StrategyHomepage},
			{URL: "https://acme.com/about", Title: "About Us", Priority: 0.9, Source: discovery.StrategyNavigation},
			{URL: "https://acme.com/careers", Title: "Careers", Priority: 0.8, Source: discovery.StrategySitemap},
			{URL: "https://acme.com/old-page", Title: "Old", Priority: 0.3, Source: discovery.StrategySitemap},
		},
		Strategies: []discovery.StrategyReport{
			{Strategy: discovery.StrategyNavigation, Pages: 1},
			{Strategy: discovery.StrategyHomepage, Pages: 1},
			{Strategy: discovery.StrategySitemap, Err: discovery.ErrNoSitemap},
		},
	}
}

type processorFixture struct {
	db        *gorm.DB
	jobRepo   *repository.JobRepository
	structure *repository.StructureRepository
	publisher *recordingPublisher
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return &processorFixture{
		db:        db,
		jobRepo:   repository.NewJobRepository(db),
		structure: repository.NewStructureRepository(db),
		publisher: &recordingPublisher{},
	}
}

func (f *processorFixture) processor(d Discoverer, deps ProcessorDeps) *Processor {
	deps.JobRepo = f.jobRepo
	deps.StructureRepo = f.structure
	deps.Discoverer = d
	deps.Ranker = ranking.NewRanker(ranking.ModeFull)
	deps.Publisher = f.publisher
	deps.Logger = logger.Discard()
	return NewProcessor(deps)
}

// claim inserts a job and dequeues it the way the pool does.
func (f *processorFixture) claim(t *testing.T, opts ...func(*model.AnalysisJob)) *model.AnalysisJob {
	t.Helper()
	opts = append([]func(*model.AnalysisJob){func(j *model.AnalysisJob) { j.Domain = "acme.com" }}, opts...)
	testutil.TestJob(t, f.db, 1, opts...)

	jobs, err := f.jobRepo.DequeueBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestProcessor_Process_Success(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	p := f.processor(&fakeDiscoverer{result: discoveredPages()}, ProcessorDeps{
		Validator: &fakeChecker{drop: map[string]bool{"https://acme.com/old-page": true}},
		Prober: &fakeProber{subs: []discovery.SubdomainResult{
			{Name: "blog", FullDomain: "blog.acme.com", IsActive: true, CheckedAt: time.Now().UTC()},
		}},
		Archiver: NewArchiver(nil, t.TempDir()),
	})

	job := f.claim(t)
	require.NoError(t, p.Process(ctx, job))

	got, err := f.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	s, err := f.structure.GetCachedStructure(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.TotalPages)
	assert.Equal(t, 1, s.TotalSubdomains)
	assert.Equal(t, "https://acme.com/sitemap.xml", s.SitemapURL)
	assert.Equal(t, repository.LocalArchivePrefix+"1.json", s.ArchiveURL)

	for i := 1; i < len(s.Pages); i++ {
		assert.GreaterOrEqual(t, s.Pages[i-1].ImportanceScore, s.Pages[i].ImportanceScore)
	}
	for _, page := range s.Pages {
		assert.NotEqual(t, "https://acme.com/old-page", page.URL)
		assert.GreaterOrEqual(t, page.ImportanceScore, 0)
		assert.LessOrEqual(t, page.ImportanceScore, 100)
	}

	assert.Equal(t, []string{
		pubsub.StepDiscovering,
		pubsub.StepRanking,
		pubsub.StepValidating,
		pubsub.StepStoring,
		pubsub.StepDone,
	}, f.publisher.steps())
	last := f.publisher.msgs[len(f.publisher.msgs)-1]
	assert.Equal(t, model.JobStatusCompleted, last.Status)
	assert.Equal(t, int64(1), last.CompanyID)
	assert.Equal(t, job.ID, last.JobID)
}

func TestProcessor_Process_OptionalStagesSkipped(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	p := f.processor(&fakeDiscoverer{result: discoveredPages()}, ProcessorDeps{})
	job := f.claim(t)
	require.NoError(t, p.Process(ctx, job))

	s, err := f.structure.GetCachedStructure(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 4, s.TotalPages)
	assert.Zero(t, s.TotalSubdomains)
	assert.Empty(t, s.ArchiveURL)
	assert.NotContains(t, f.publisher.steps(), pubsub.StepValidating)
}

func TestProcessor_Process_ProbeFailureIsNotFatal(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	p := f.processor(&fakeDiscoverer{result: discoveredPages()}, ProcessorDeps{
		Prober: &fakeProber{err: errors.New("resolver down")},
	})
	job := f.claim(t)
	require.NoError(t, p.Process(ctx, job))

	got, err := f.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestProcessor_Process_RetriesWithBackoff(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	discoverErr := errors.New("connection reset")
	p := f.processor(&fakeDiscoverer{err: discoverErr}, ProcessorDeps{})

	job := f.claim(t)
	require.Equal(t, 1, job.Attempts)

	before := time.Now().UTC()
	err := p.Process(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, discoverErr)

	got, err := f.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ScheduledFor)
	assert.WithinDuration(t, before.Add(repository.BackoffDelay(1)), *got.ScheduledFor, 5*time.Second)
	assert.Contains(t, got.ErrorMessage, "analysis failed while discovering")

	s, err := f.structure.GetCachedStructure(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, s)

	last := f.publisher.msgs[len(f.publisher.msgs)-1]
	assert.Equal(t, model.JobStatusQueued, last.Status)
	assert.Equal(t, pubsub.StepDiscovering, last.Step)
	assert.NotEmpty(t, last.Error)
}

func TestProcessor_Process_FailsWhenExhausted(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	p := f.processor(&fakeDiscoverer{err: discovery.ErrNoPagesDiscovered}, ProcessorDeps{})

	job := f.claim(t, testutil.WithAttempts(model.DefaultMaxAttempts-1))
	require.True(t, job.Exhausted())

	require.Error(t, p.Process(ctx, job))

	got, err := f.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.DefaultMaxAttempts, got.Attempts)
	assert.Contains(t, got.ErrorMessage, "no pages could be discovered")

	last := f.publisher.msgs[len(f.publisher.msgs)-1]
	assert.Equal(t, model.JobStatusFailed, last.Status)
}

func TestProcessor_Process_KeepsLastGoodStructure(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	ok := f.processor(&fakeDiscoverer{result: discoveredPages()}, ProcessorDeps{})
	job := f.claim(t)
	require.NoError(t, ok.Process(ctx, job))

	_, err := f.jobRepo.Enqueue(ctx, 1, "acme.com", 1)
	require.NoError(t, err)
	jobs, err := f.jobRepo.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	failing := f.processor(&fakeDiscoverer{err: errors.New("timeout")}, ProcessorDeps{})
	require.Error(t, failing.Process(ctx, jobs[0]))

	s, err := f.structure.GetCachedStructure(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 4, s.TotalPages)
}

func TestProcessor_Process_JobTimeout(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	p := f.processor(blockingDiscoverer{}, ProcessorDeps{JobTimeout: 50 * time.Millisecond})
	job := f.claim(t)

	err := p.Process(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := f.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.Contains(t, got.ErrorMessage, "timed out")
}

type blockingDiscoverer struct{}

func (blockingDiscoverer) Discover(ctx context.Context, domain string) (*discovery.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
