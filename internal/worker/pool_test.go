package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/testutil"
)

type countingProcessor struct {
	mu   sync.Mutex
	seen map[int64]int
	repo *repository.JobRepository
}

func (c *countingProcessor) Process(ctx context.Context, job *model.AnalysisJob) error {
	c.mu.Lock()
	if c.seen == nil {
		c.seen = make(map[int64]int)
	}
	c.seen[job.ID]++
	c.mu.Unlock()
	return c.repo.MarkCompleted(ctx, job.ID)
}

func (c *countingProcessor) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.seen {
		n += v
	}
	return n
}

func TestPool_RunOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := repository.NewJobRepository(db)
	for i := int64(1); i <= 3; i++ {
		testutil.TestJob(t, db, i)
	}

	proc := &countingProcessor{repo: repo}
	pool := NewPool(repo, proc, PoolConfig{Workers: 1, BatchSize: 2}, logger.Discard())

	n, err := pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, proc.total())
}

func TestPool_RunProcessesEachJobOnceAndStops(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := repository.NewJobRepository(db)
	for i := int64(1); i <= 10; i++ {
		testutil.TestJob(t, db, i)
	}

	proc := &countingProcessor{repo: repo}
	pool := NewPool(repo, proc, PoolConfig{Workers: 3, BatchSize: 2, PollInterval: 10 * time.Millisecond}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.total() == 10 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Len(t, proc.seen, 10)
	for id, n := range proc.seen {
		assert.Equal(t, 1, n, "job %d", id)
	}

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts[model.JobStatusCompleted])
}

// chanWaker wakes on every send and reports waits on waits.
type chanWaker struct {
	ch    chan struct{}
	waits chan struct{}
}

func (w *chanWaker) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case w.waits <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case _, ok := <-w.ch:
		if !ok {
			return false, assert.AnError
		}
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func TestPool_WakerShortensIdleWait(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := repository.NewJobRepository(db)
	proc := &countingProcessor{repo: repo}
	waker := &chanWaker{ch: make(chan struct{}, 1), waits: make(chan struct{}, 1)}
	pool := NewPool(repo, proc, PoolConfig{Workers: 1, BatchSize: 1, PollInterval: time.Minute}, logger.Discard()).
		WithWaker(waker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// the worker found nothing and is waiting
	select {
	case <-waker.waits:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never went idle")
	}

	testutil.TestJob(t, db, 1)
	waker.ch <- struct{}{}

	require.Eventually(t, func() bool { return proc.total() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

// requeueingProcessor simulates the stale sweep firing while the first job of a
// batch is still running.
type requeueingProcessor struct {
	countingProcessor
	once sync.Once
}

func (r *requeueingProcessor) Process(ctx context.Context, job *model.AnalysisJob) error {
	r.once.Do(func() {
		_, _, _ = r.repo.RequeueStale(ctx, -time.Hour)
	})
	return r.countingProcessor.Process(ctx, job)
}

func TestPool_SkipsJobsRequeuedBeforeStart(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := repository.NewJobRepository(db)
	first := testutil.TestJob(t, db, 1, testutil.WithPriority(1))
	second := testutil.TestJob(t, db, 2, testutil.WithPriority(2))

	proc := &requeueingProcessor{countingProcessor: countingProcessor{repo: repo}}
	pool := NewPool(repo, proc, PoolConfig{Workers: 1, BatchSize: 2}, logger.Discard())

	n, err := pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, proc.total())

	job, err := repo.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	n, err = pool.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, 1, proc.seen[first.ID])
	assert.Equal(t, 1, proc.seen[second.ID])
}
