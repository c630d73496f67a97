// Package dispatch is the job control surface: it accepts new mass-mail
// jobs, hands them to a dedicated orchestrator pool, answers status
// queries, cancels running jobs and purges old history.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
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
	"massmail/internal/worker"
)

type Dispatcher struct {
	// base outlives the HTTP request that submits a job; workers run on
	// it until the job finishes or the process shuts down.
	base    context.Context
	cfg     *config.Config
	store   store.Store
	broker  *broker.Broker
	pool    *pool.Manager
	sender  worker.MailSender
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(
	base context.Context,
	cfg *config.Config,
	st store.Store,
	b *broker.Broker,
	pm *pool.Manager,
	sender worker.MailSender,
	limiter *rate.Limiter,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		base:    base,
		cfg:     cfg,
		store:   st,
		broker:  b,
		pool:    pm,
		sender:  sender,
		limiter: limiter,
		log:     log,
	}
}

// SaveSpool stores an uploaded recipient file in the spool directory and
// returns the name Submit expects. Path components are stripped from name.
func (d *Dispatcher) SaveSpool(name string, src io.Reader) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", &ValidationError{Msg: "csv file name is required"}
	}
	dst, err := os.Create(filepath.Join(d.cfg.SpoolDir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// newPoolID builds a unique worker pool name. The date makes stale pools
// recognizable at a glance in status listings.
func newPoolID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("massmail-%s-%s", now.Format("2006-01-02"), suffix)
}

// Submit starts a new mass-mail job for the named recipient file in the
// spool directory and returns its job id. The orchestrator runs
// asynchronously; the id is usable for status queries immediately.
func (d *Dispatcher) Submit(ctx context.Context, csvName, notifyTo string) (string, error) {
	if csvName == "" {
		return "", &ValidationError{Msg: "csv file name is required"}
	}
	csvPath := filepath.Join(d.cfg.SpoolDir, filepath.Base(csvName))
	if _, err := os.Stat(csvPath); err != nil {
		return "", &ValidationError{Msg: fmt.Sprintf("csv file %q not found in spool", filepath.Base(csvName))}
	}
	count, err := csvsource.Count(csvPath)
	if err != nil {
		return "", &ValidationError{Msg: fmt.Sprintf("csv file %q is not readable: %v", filepath.Base(csvName), err)}
	}
	if count == 0 {
		return "", &ValidationError{Msg: fmt.Sprintf("csv file %q has no recipients", filepath.Base(csvName))}
	}
	if notifyTo != "" && len(email.ParseAddressList(notifyTo)) == 0 {
		return "", &ValidationError{Msg: fmt.Sprintf("notification address %q is not valid", notifyTo)}
	}

	// Housekeeping before taking on new work: drop queue functions
	// nothing consumes anymore and reap workers past the age cutoff.
	d.pool.DropIdleFunctions()
	if d.cfg.StaleWorkerAgeDays > 0 {
		maxAge := time.Duration(d.cfg.StaleWorkerAgeDays) * 24 * time.Hour
		if n := d.pool.ReapStaleWorkers(maxAge); n > 0 {
			metrics.StaleWorkersReaped.Add(float64(n))
			d.log.Warn("reaped stale workers", zap.Int("count", n))
		}
	}

	poolID := newPoolID(time.Now())
	jobID := models.NewJobID()

	orch := worker.NewOrchestrator(poolID, d.cfg, d.store, d.broker, d.pool, d.sender, d.limiter, d.log)
	if err := d.pool.Spawn(d.base, poolID, jobID, poolID, orch.Handle); err != nil {
		return "", &BrokerError{Err: err}
	}

	payload, err := json.Marshal(models.OrchestrationTask{
		JobID:    jobID,
		NotifyTo: notifyTo,
		CSVName:  filepath.Base(csvName),
	})
	if err != nil {
		d.pool.Shutdown(poolID)
		return "", err
	}
	if _, err := d.broker.Submit(poolID, payload); err != nil {
		d.pool.Shutdown(poolID)
		return "", &BrokerError{Err: err}
	}

	d.log.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("pool", poolID),
		zap.String("csv", filepath.Base(csvName)),
		zap.Int("recipients", count),
	)
	return jobID, nil
}

// Job returns the stored state of one job.
func (d *Dispatcher) Job(ctx context.Context, jobID string) (*models.Job, error) {
	if !models.ValidJobID(jobID) {
		return nil, &ValidationError{Msg: "malformed job id"}
	}
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel stops a running job: its worker pool is torn down, the
// remaining recipients are written off as canceled and the job row moves
// to its terminal Canceled state. Cancel of a finished job fails.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := d.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, &TerminalStateError{Status: job.Status}
	}

	d.pool.Shutdown(job.WorkerPool)

	// The write-off happens inside the UPDATE itself, against the row's
	// own counters; a count computed from the snapshot above could race
	// a still-draining send worker and overstate it.
	if err := d.store.MarkCanceled(ctx, jobID, time.Now()); err != nil {
		return nil, err
	}
	metrics.JobsCanceled.Inc()

	job, err = d.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	d.log.Info("job canceled",
		zap.String("job_id", jobID),
		zap.String("pool", job.WorkerPool),
		zap.Int("canceled_count", job.CanceledCount),
	)
	if job.NotifyTo != "" {
		d.notifyCanceled(ctx, job)
	}
	return job, nil
}

// notifyCanceled sends the cancellation notification through a fresh
// single-use worker; the job's own workers are already gone.
func (d *Dispatcher) notifyCanceled(ctx context.Context, job *models.Job) {
	log := d.log.With(zap.String("job_id", job.ID))

	tpl, err := d.store.TemplateByCode(ctx, models.TemplateJobCanceled)
	if err != nil || tpl == nil {
		log.Warn("cancellation notification skipped, template unavailable", zap.Error(err))
		return
	}

	// The worker lives under its own pool key: the canceled
	// orchestrator's deferred teardown of job.WorkerPool may still be
	// in flight and must not reap the notification mid-send.
	fn := job.WorkerPool + "-canceled"
	sw := worker.NewSendWorker(d.store, d.sender, d.limiter, d.log)
	if err := d.pool.Spawn(d.base, fn, job.ID, fn, sw.Handle); err != nil {
		log.Warn("cancellation notification skipped", zap.Error(err))
		return
	}
	defer d.pool.Shutdown(fn)

	env := worker.NotificationEnvelope(tpl, worker.NotificationVars(job, d.cfg.JobDetailsURL), job.NotifyTo)
	payload, err := json.Marshal(models.SendTask{
		JobID:       job.ID,
		RetryNumber: job.RetryNumber,
		Envelope:    env,
		Notify:      true,
	})
	if err != nil {
		log.Warn("cancellation notification skipped", zap.Error(err))
		return
	}
	t, err := d.broker.Submit(fn, payload)
	if err != nil {
		log.Warn("cancellation notification not queued", zap.Error(err))
		return
	}
	select {
	case <-t.Done():
		if err := t.Err(); err != nil {
			log.Warn("cancellation notification failed", zap.Error(err))
		}
	case <-ctx.Done():
	}
}

// PurgeSentLogBefore deletes jobs started at or before the given
// timestamp ("2006-01-02 15:04:05", UTC) together with their sent-log
// rows, and reports how many jobs went away.
func (d *Dispatcher) PurgeSentLogBefore(ctx context.Context, before string) (int64, error) {
	cutoff, err := time.ParseInLocation("2006-01-02 15:04:05", before, time.UTC)
	if err != nil {
		return 0, &ValidationError{Msg: fmt.Sprintf("bad cutoff timestamp %q, want YYYY-MM-DD HH:MM:SS", before)}
	}
	n, err := d.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	d.log.Info("purged job history", zap.Int64("jobs", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Status reports the broker functions of the live worker pools.
func (d *Dispatcher) Status() []broker.FunctionStatus {
	return d.pool.Status()
}
