package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"massmail/internal/models"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "massmail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateSchema(context.Background()))
	return s
}

func insertTestJob(t *testing.T, s *SQLite, total int) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:         models.NewJobID(),
		Status:     models.StatusStarted,
		TotalCount: total,
		StartedAt:  time.Now().UTC().Truncate(time.Second),
		NotifyTo:   "ops@example.com",
		WorkerPool: "massmail-2026-09-01-abcdef123456",
	}
	require.NoError(t, s.InsertJob(context.Background(), job))
	return job
}

func TestCreateSchemaSeedsTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Bootstrap again; seeding must not duplicate or overwrite.
	require.NoError(t, s.CreateSchema(ctx))

	for _, code := range []string{
		models.TemplateJobStarted,
		models.TemplateJobCompleted,
		models.TemplateJobCanceled,
	} {
		tpl, err := s.TemplateByCode(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, tpl, code)
		assert.NotEmpty(t, tpl.Subject)
		assert.Contains(t, tpl.Body, "___JOB_ID___")
	}
}

func TestTemplateByCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl, err := s.TemplateByCode(ctx, "JOB_STARTED")
	require.NoError(t, err)
	assert.NotNil(t, tpl, "lookup is case-insensitive")

	tpl, err = s.TemplateByCode(ctx, "no_such_template")
	require.NoError(t, err)
	assert.Nil(t, tpl)
}

func TestJobRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 10)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.StatusStarted, got.Status)
	assert.Equal(t, 10, got.TotalCount)
	assert.True(t, got.StartedAt.Equal(job.StartedAt), "started_at survives the roundtrip")
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.CanceledAt)
	assert.Equal(t, "ops@example.com", got.NotifyTo)
	assert.Equal(t, job.WorkerPool, got.WorkerPool)

	missing, err := s.GetJob(ctx, models.NewJobID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApplySendOutcomeProgression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 3)
	at := job.StartedAt.Add(30 * time.Second)

	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, at))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.ExecutedCount)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 33, got.PercentCompleted, "percent reflects the state after the increment")
	assert.Nil(t, got.EndedAt)

	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusNotSent, at))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ExecutedCount)
	assert.Equal(t, 1, got.NotSentCount)
	assert.Equal(t, 67, got.PercentCompleted, "percent is rounded, not truncated")

	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, at))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.ExecutedCount)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 100, got.PercentCompleted)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, int64(30), got.TimeSpentSeconds)
}

func TestApplySendOutcomeCapsAtTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 1)
	at := time.Now()

	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, at))
	// Retry-round outcomes arriving after the job is full must not move
	// any counter.
	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, at.Add(time.Minute)))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutedCount)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.PercentCompleted)
}

func TestApplySendOutcomeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 20
	job := insertTestJob(t, s, total)

	// More outcomes than the job has room for, applied from concurrent
	// workers. The conditional update must absorb them one at a time and
	// discard the overflow.
	var wg sync.WaitGroup
	for i := 0; i < total+8; i++ {
		status := models.SentStatusSent
		if i%3 == 0 {
			status = models.SentStatusNotSent
		}
		wg.Add(1)
		go func(st models.SentStatus) {
			defer wg.Done()
			assert.NoError(t, s.ApplySendOutcome(ctx, job.ID, st, time.Now()))
		}(status)
	}
	wg.Wait()

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, total, got.ExecutedCount)
	assert.Equal(t, total, got.SentCount+got.NotSentCount+got.CanceledCount)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.PercentCompleted)
	require.NotNil(t, got.EndedAt)
}

func TestApplySendOutcomeSkipsCanceledJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 5)
	require.NoError(t, s.MarkCanceled(ctx, job.ID, time.Now()))

	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, time.Now()))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.Equal(t, 0, got.ExecutedCount)
}

func TestSetRetryNumberMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 5)

	require.NoError(t, s.SetRetryNumber(ctx, job.ID, 2))
	require.NoError(t, s.SetRetryNumber(ctx, job.ID, 1))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryNumber)
}

func TestMarkCanceled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 10)
	at := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, at))
	}

	require.NoError(t, s.MarkCanceled(ctx, job.ID, at))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.Equal(t, 7, got.CanceledCount, "write-off covers the unexecuted remainder")
	require.NotNil(t, got.CanceledAt)

	// Terminal states are final.
	require.NoError(t, s.MarkCanceled(ctx, job.ID, at.Add(time.Minute)))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.CanceledCount)
}

func TestMarkCanceledSkipsCompletedJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 1)
	require.NoError(t, s.ApplySendOutcome(ctx, job.ID, models.SentStatusSent, time.Now()))

	require.NoError(t, s.MarkCanceled(ctx, job.ID, time.Now()))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.CanceledCount)
}

func insertOutcome(t *testing.T, s *SQLite, jobID string, round int, to, code string, status models.SentStatus, at time.Time) {
	t.Helper()
	rec := models.SentLogRecord{
		JobID:       jobID,
		RetryNumber: round,
		Envelope: models.Envelope{
			From:    "news@example.com",
			Subject: "Hello",
			Body:    "Body",
			To:      to,
		},
		SentAt:      at,
		SentStatus:  status,
		FailureCode: code,
	}
	require.NoError(t, s.InsertSentLog(context.Background(), &rec))
}

func TestNotSentEnvelopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := insertTestJob(t, s, 5)
	at := time.Now().UTC().Truncate(time.Second)

	insertOutcome(t, s, job.ID, 0, "a@example.com", "", models.SentStatusSent, at)
	insertOutcome(t, s, job.ID, 0, "b@example.com", "421", models.SentStatusNotSent, at.Add(time.Second))
	insertOutcome(t, s, job.ID, 0, "c@example.com", "550", models.SentStatusNotSent, at.Add(2*time.Second))
	insertOutcome(t, s, job.ID, 1, "d@example.com", "421", models.SentStatusNotSent, at.Add(3*time.Second))

	t.Run("all codes", func(t *testing.T) {
		envs, err := s.NotSentEnvelopes(ctx, job.ID, 0, nil)
		require.NoError(t, err)
		require.Len(t, envs, 2)
		assert.Equal(t, "b@example.com", envs[0].To, "oldest first")
		assert.Equal(t, "c@example.com", envs[1].To)
	})

	t.Run("code filter", func(t *testing.T) {
		envs, err := s.NotSentEnvelopes(ctx, job.ID, 0, []string{"421"})
		require.NoError(t, err)
		require.Len(t, envs, 1)
		assert.Equal(t, "b@example.com", envs[0].To)
	})

	t.Run("round filter", func(t *testing.T) {
		envs, err := s.NotSentEnvelopes(ctx, job.ID, 1, nil)
		require.NoError(t, err)
		require.Len(t, envs, 1)
		assert.Equal(t, "d@example.com", envs[0].To)
	})

	t.Run("no matches", func(t *testing.T) {
		envs, err := s.NotSentEnvelopes(ctx, job.ID, 0, []string{"999"})
		require.NoError(t, err)
		assert.Empty(t, envs)
	})
}

func TestPurgeBeforeCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := insertTestJob(t, s, 1)
	insertOutcome(t, s, old.ID, 0, "a@example.com", "421", models.SentStatusNotSent, old.StartedAt)

	recent := &models.Job{
		ID:         models.NewJobID(),
		Status:     models.StatusStarted,
		TotalCount: 1,
		StartedAt:  time.Now().Add(time.Hour),
		WorkerPool: "massmail-2026-09-01-fedcba654321",
	}
	require.NoError(t, s.InsertJob(ctx, recent))

	n, err := s.PurgeBefore(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := s.GetJob(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	envs, err := s.NotSentEnvelopes(ctx, old.ID, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, envs, "sent-log rows cascade with the job")

	kept, err := s.GetJob(ctx, recent.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
}
