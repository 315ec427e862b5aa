package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/site_structure_server/internal/model"
	"github.com/qs3c/site_structure_server/internal/testutil"
)

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Minute, BackoffDelay(0))
	assert.Equal(t, 2*time.Minute, BackoffDelay(1))
	assert.Equal(t, 4*time.Minute, BackoffDelay(2))
	assert.Equal(t, 8*time.Minute, BackoffDelay(3))
	assert.Equal(t, BackoffDelay(maxBackoffExponent), BackoffDelay(100))
}

func TestJobRepository_Enqueue_Creates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()

	job, err := repo.Enqueue(ctx, 1, "example.com", 5)
	require.NoError(t, err)
	assert.NotZero(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, model.DefaultMaxAttempts, job.MaxAttempts)
}

func TestJobRepository_Enqueue_IdempotentKeepsMinPriority(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()

	first, err := repo.Enqueue(ctx, 1, "example.com", 5)
	require.NoError(t, err)

	second, err := repo.Enqueue(ctx, 1, "example.com", 2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Priority)

	third, err := repo.Enqueue(ctx, 1, "example.com", 8)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Priority)

	var count int64
	require.NoError(t, db.Model(&model.AnalysisJob{}).Where("company_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestJobRepository_Enqueue_RearmsTerminalJob(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()
	existing := testutil.TestJob(t, db, 9,
		testutil.WithJobStatus(model.JobStatusFailed),
		testutil.WithAttempts(3),
		testutil.WithPriority(1))

	job, err := repo.Enqueue(ctx, 9, "example.com", 4)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 4, job.Priority)
	assert.Nil(t, job.ScheduledFor)
	assert.Empty(t, job.ErrorMessage)
}

func TestJobRepository_DequeueBatch_Ordering(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	low := testutil.TestJob(t, db, 1, testutil.WithPriority(5), testutil.WithCreatedAt(base))
	urgentLate := testutil.TestJob(t, db, 2, testutil.WithPriority(1), testutil.WithCreatedAt(base.Add(2*time.Minute)))
	urgentEarly := testutil.TestJob(t, db, 3, testutil.WithPriority(1), testutil.WithCreatedAt(base.Add(time.Minute)))

	jobs, err := repo.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, urgentEarly.ID, jobs[0].ID)
	assert.Equal(t, urgentLate.ID, jobs[1].ID)
	assert.Equal(t, low.ID, jobs[2].ID)

	for _, job := range jobs {
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.NotNil(t, job.LastAttempt)
	}

	again, err := repo.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestJobRepository_DequeueBatch_RespectsLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	for i := int64(1); i <= 5; i++ {
		testutil.TestJob(t, db, i)
	}

	jobs, err := repo.DequeueBatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestJobRepository_DequeueBatch_SkipsFutureAndExhausted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	now := time.Now().UTC()

	testutil.TestJob(t, db, 1, testutil.WithScheduledFor(now.Add(10*time.Minute)))
	testutil.TestJob(t, db, 2, testutil.WithAttempts(3))
	testutil.TestJob(t, db, 3, testutil.WithJobStatus(model.JobStatusProcessing))
	due := testutil.TestJob(t, db, 4, testutil.WithScheduledFor(now.Add(-time.Minute)))

	jobs, err := repo.DequeueBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)
}

func TestJobRepository_DequeueBatch_ConcurrentCallersDisjoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	for i := int64(1); i <= 20; i++ {
		testutil.TestJob(t, db, i)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := repo.DequeueBatch(context.Background(), 3)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, job := range jobs {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %d claimed more than once", id)
	}
}

func TestJobRepository_RetryLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	created, err := repo.Enqueue(ctx, 1, "example.com", 5)
	require.NoError(t, err)

	// first attempt fails, retried after 2 minutes
	jobs, err := repo.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 1, jobs[0].Attempts)
	require.ErrorIs(t, repo.MarkFailed(ctx, created.ID, "boom"), ErrJobNotExhausted)
	require.NoError(t, repo.Reschedule(ctx, created.ID, jobs[0].Attempts, "boom"))

	job, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, job.ScheduledFor)
	assert.Equal(t, clock.Add(2*time.Minute), job.ScheduledFor.UTC())

	jobs, err = repo.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs, "not yet due")

	// second attempt fails, retried after 4 minutes
	clock = clock.Add(2 * time.Minute)
	jobs, err = repo.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 2, jobs[0].Attempts)
	require.NoError(t, repo.Reschedule(ctx, created.ID, jobs[0].Attempts, "boom"))

	job, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Add(4*time.Minute), job.ScheduledFor.UTC())

	// third attempt exhausts the budget
	clock = clock.Add(4 * time.Minute)
	jobs, err = repo.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 3, jobs[0].Attempts)
	require.NoError(t, repo.MarkFailed(ctx, created.ID, "boom"))

	job, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)

	clock = clock.Add(time.Hour)
	jobs, err = repo.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobRepository_MarkCompleted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()
	job := testutil.TestJob(t, db, 1, testutil.WithJobStatus(model.JobStatusProcessing), testutil.WithAttempts(1))

	require.NoError(t, repo.MarkCompleted(ctx, job.ID))

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)

	assert.ErrorIs(t, repo.MarkCompleted(ctx, 99999), ErrJobNotFound)
}

func TestJobRepository_RequeueStale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * time.Hour)

	stuck := testutil.TestJob(t, db, 1,
		testutil.WithJobStatus(model.JobStatusProcessing),
		testutil.WithAttempts(1),
		testutil.WithLastAttempt(old))
	dead := testutil.TestJob(t, db, 2,
		testutil.WithJobStatus(model.JobStatusProcessing),
		testutil.WithAttempts(3),
		testutil.WithLastAttempt(old))
	fresh := testutil.TestJob(t, db, 3,
		testutil.WithJobStatus(model.JobStatusProcessing),
		testutil.WithAttempts(1),
		testutil.WithLastAttempt(time.Now().UTC()))

	requeued, failed, err := repo.RequeueStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
	assert.Equal(t, int64(1), failed)

	found, _ := repo.GetByID(ctx, stuck.ID)
	assert.Equal(t, model.JobStatusQueued, found.Status)
	found, _ = repo.GetByID(ctx, dead.ID)
	assert.Equal(t, model.JobStatusFailed, found.Status)
	found, _ = repo.GetByID(ctx, fresh.ID)
	assert.Equal(t, model.JobStatusProcessing, found.Status)
}

func TestJobRepository_GetByCompanyID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	_, err := NewJobRepository(db).GetByCompanyID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobRepository_CountByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	testutil.TestJob(t, db, 1)
	testutil.TestJob(t, db, 2)
	testutil.TestJob(t, db, 3, testutil.WithJobStatus(model.JobStatusCompleted))

	counts, err := NewJobRepository(db).CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.JobStatusQueued])
	assert.Equal(t, int64(1), counts[model.JobStatusCompleted])
}

func TestJobRepository_MarkStarted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewJobRepository(db)
	ctx := context.Background()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	testutil.TestJob(t, db, 1)
	testutil.TestJob(t, db, 2)
	jobs, err := repo.DequeueBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// the second job waits 40 minutes behind the first
	clock = clock.Add(40 * time.Minute)
	started, err := repo.MarkStarted(ctx, jobs[1].ID)
	require.NoError(t, err)
	assert.True(t, started)

	requeued, _, err := repo.RequeueStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued, "only the job that never started is recovered")

	job, err := repo.GetByID(ctx, jobs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)

	started, err = repo.MarkStarted(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.False(t, started)
}
