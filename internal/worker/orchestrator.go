// Package worker holds the two queue consumers of the system: the
// per-job mass-mail orchestrator and the send workers it fans tasks
// out to.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"massmail/internal/broker"
	"massmail/internal/config"
	"massmail/internal/csvsource"
	"massmail/internal/email"
	"massmail/internal/metrics"
	"massmail/internal/models"
	"massmail/internal/pool"
	"massmail/internal/store"
	"massmail/internal/templates"
)

// Orchestrator drives one mass-mail job: it sizes and spawns the send
// worker pool, distributes recipient tasks round-robin, waits on the
// round barrier and decides on retries. One orchestrator is registered
// per pool id and consumes the job's orchestration queue.
type Orchestrator struct {
	poolID  string
	cfg     *config.Config
	store   store.Store
	broker  *broker.Broker
	pool    *pool.Manager
	sender  MailSender
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewOrchestrator(
	poolID string,
	cfg *config.Config,
	st store.Store,
	b *broker.Broker,
	pm *pool.Manager,
	sender MailSender,
	limiter *rate.Limiter,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		poolID:  poolID,
		cfg:     cfg,
		store:   st,
		broker:  b,
		pool:    pm,
		sender:  sender,
		limiter: limiter,
		log:     log.With(zap.String("pool", poolID)),
	}
}

// Handle is the broker handler for the orchestration function.
func (o *Orchestrator) Handle(ctx context.Context, t *broker.Task) error {
	var task models.OrchestrationTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("orchestrator: bad task payload: %w", err)
	}
	return o.run(ctx, task)
}

func (o *Orchestrator) run(ctx context.Context, task models.OrchestrationTask) error {
	// Every exit path tears the pool down; Shutdown is idempotent and
	// does not block on our own worker goroutine.
	defer o.pool.Shutdown(o.poolID)

	log := o.log.With(zap.String("job_id", task.JobID))
	csvPath := filepath.Join(o.cfg.SpoolDir, filepath.Base(task.CSVName))

	// Retry rounds read from per-round exports, removed once consumed so
	// the spool holds only the submitted sources.
	retrySource := false

	for round := task.RetryNumber; ; round++ {
		count, err := csvsource.Count(csvPath)
		if err != nil {
			return fmt.Errorf("orchestrator: counting recipients: %w", err)
		}
		if count == 0 {
			log.Info("no recipients, nothing to do", zap.Int("round", round))
			return nil
		}

		workers := o.cfg.WorkersPerJob
		if count < workers {
			workers = count
		}
		if workers < 1 {
			workers = 1
		}

		sw := NewSendWorker(o.store, o.sender, o.limiter, o.log)
		fns, err := o.spawnRound(ctx, task.JobID, round, workers, sw)
		if err != nil {
			return err
		}
		log.Info("round started",
			zap.Int("round", round),
			zap.Int("recipients", count),
			zap.Int("workers", workers),
		)

		if round == 0 {
			job := &models.Job{
				ID:         task.JobID,
				Status:     models.StatusStarted,
				TotalCount: count,
				StartedAt:  time.Now(),
				NotifyTo:   task.NotifyTo,
				WorkerPool: o.poolID,
			}
			if err := o.store.InsertJob(ctx, job); err != nil {
				return fmt.Errorf("orchestrator: inserting job: %w", err)
			}
			metrics.JobsStarted.Inc()
			if task.NotifyTo != "" {
				o.notify(ctx, fns[0], task.JobID, models.TemplateJobStarted, task.NotifyTo)
			}
		}

		if err := o.distribute(ctx, csvPath, task.JobID, round, fns); err != nil {
			return err
		}

		next, err := o.nextRoundSource(ctx, task.JobID, round)
		if err != nil {
			return err
		}
		if retrySource {
			if err := os.Remove(csvPath); err != nil {
				log.Warn("could not remove retry source", zap.String("path", csvPath), zap.Error(err))
			}
		}
		if next == "" {
			job, err := o.store.GetJob(ctx, task.JobID)
			if err != nil {
				return fmt.Errorf("orchestrator: reading job after final round: %w", err)
			}
			if job != nil && job.Status == models.StatusCompleted {
				metrics.JobsCompleted.Inc()
				if task.NotifyTo != "" {
					o.notify(ctx, fns[0], task.JobID, models.TemplateJobCompleted, task.NotifyTo)
				}
			}
			log.Info("job finished", zap.Int("rounds", round+1))
			return nil
		}

		// The round is over; its workers are done. The next round spawns
		// its own set under fresh function names.
		o.pool.ShutdownWorkers(o.poolID, fns)
		if err := o.store.SetRetryNumber(ctx, task.JobID, round+1); err != nil {
			return fmt.Errorf("orchestrator: recording retry round: %w", err)
		}
		csvPath = next
		retrySource = true
		metrics.RetryRounds.Inc()
		log.Info("retrying not-sent recipients", zap.Int("next_round", round+1))
	}
}

// spawnRound starts the round's send workers, each bound to a
// deterministic function name derived from the pool id, worker index and
// retry round. Spawn registers the function before returning, so every
// worker is ready before any task is assigned.
func (o *Orchestrator) spawnRound(ctx context.Context, jobID string, round, workers int, sw *SendWorker) ([]string, error) {
	fns := make([]string, workers)
	for i := range fns {
		fn := fmt.Sprintf("%s-send-%d", o.poolID, i+1)
		if round > 0 {
			fn = fmt.Sprintf("%s-retry-%d", fn, round)
		}
		if err := o.pool.Spawn(ctx, o.poolID, jobID, fn, sw.Handle); err != nil {
			return nil, fmt.Errorf("orchestrator: spawning worker %s: %w", fn, err)
		}
		fns[i] = fn
	}
	return fns, nil
}

// distribute streams the recipient source, assigns each row to workers in
// strict round-robin order and blocks until the whole batch completes.
func (o *Orchestrator) distribute(ctx context.Context, csvPath, jobID string, round int, fns []string) error {
	rd, err := csvsource.Open(csvPath)
	if err != nil {
		return fmt.Errorf("orchestrator: opening recipients: %w", err)
	}
	defer rd.Close()

	batch := o.broker.NewBatch()
	idx := 0
	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("orchestrator: reading recipients: %w", err)
		}

		env := row.Envelope
		env.Subject = templates.Render(env.Subject, row.Vars)
		env.Body = templates.Render(env.Body, row.Vars)

		payload, err := json.Marshal(models.SendTask{
			JobID:       jobID,
			RetryNumber: round,
			Envelope:    env,
		})
		if err != nil {
			return err
		}

		if _, err := batch.Add(fns[idx%len(fns)], payload); err != nil {
			// A rejected task mid-round becomes a Not-Sent outcome for
			// that recipient, not a fatal abort.
			o.recordBrokerRejection(ctx, jobID, round, env, err)
		}
		idx++
	}

	return batch.Wait(ctx)
}

func (o *Orchestrator) recordBrokerRejection(ctx context.Context, jobID string, round int, env models.Envelope, cause error) {
	at := time.Now()
	rec := models.SentLogRecord{
		JobID:          jobID,
		RetryNumber:    round,
		Envelope:       env,
		SentAt:         at,
		SentStatus:     models.SentStatusNotSent,
		FailureCode:    email.CodeBrokerRejected,
		FailureMessage: cause.Error(),
	}
	if err := o.store.InsertSentLog(ctx, &rec); err != nil {
		o.log.Error("failed to log broker rejection", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := o.store.ApplySendOutcome(ctx, jobID, models.SentStatusNotSent, at); err != nil {
		o.log.Error("failed to count broker rejection", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.EmailsNotSent.Inc()
}

// nextRoundSource exports the round's retry-eligible failures into a new
// recipient source and returns its path, or "" when no retry should run.
func (o *Orchestrator) nextRoundSource(ctx context.Context, jobID string, round int) (string, error) {
	// Max retries 0 disables retrying entirely; otherwise stop once the
	// retry budget is spent.
	if o.cfg.MaxSendRetries == 0 || round >= o.cfg.MaxSendRetries {
		return "", nil
	}

	envs, err := o.store.NotSentEnvelopes(ctx, jobID, round, o.cfg.RetryFailureCodes)
	if err != nil {
		return "", fmt.Errorf("orchestrator: exporting not-sent recipients: %w", err)
	}
	if len(envs) == 0 {
		return "", nil
	}

	path := filepath.Join(o.cfg.SpoolDir, fmt.Sprintf("%s-retry-%d.csv", jobID, round+1))
	if err := csvsource.Write(path, envs); err != nil {
		return "", fmt.Errorf("orchestrator: writing retry source: %w", err)
	}
	return path, nil
}
