package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"massmail/internal/broker"
	"massmail/internal/email"
	"massmail/internal/metrics"
	"massmail/internal/models"
	"massmail/internal/store"
)

// MailSender transmits one flattened message. Failures returned from Send
// are classified per recipient and never abort a round.
type MailSender interface {
	Send(ctx context.Context, env models.Envelope) error
}

// SendWorker handles one send task at a time: transmit, log the outcome,
// bump the job counters. Stateless per task.
type SendWorker struct {
	store   store.Store
	sender  MailSender
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewSendWorker(st store.Store, sender MailSender, limiter *rate.Limiter, log *zap.Logger) *SendWorker {
	return &SendWorker{store: st, sender: sender, limiter: limiter, log: log}
}

// Handle is the broker handler for send worker functions.
func (w *SendWorker) Handle(ctx context.Context, t *broker.Task) error {
	var task models.SendTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("send worker: bad task payload: %w", err)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	sentAt := time.Now()
	rec := models.SentLogRecord{
		JobID:       task.JobID,
		RetryNumber: task.RetryNumber,
		Envelope:    task.Envelope,
		SentAt:      sentAt,
		SentStatus:  models.SentStatusSent,
	}

	if err := w.sender.Send(ctx, task.Envelope); err != nil {
		se := email.Classify(err)
		rec.SentStatus = models.SentStatusNotSent
		rec.FailureCode = se.Code
		rec.FailureMessage = se.Message
		rec.FailureDetail = se.Detail
		metrics.EmailsNotSent.Inc()
		w.log.Warn("email not sent",
			zap.String("job_id", task.JobID),
			zap.Int("retry_number", task.RetryNumber),
			zap.String("to", task.Envelope.To),
			zap.String("failure_code", se.Code),
			zap.String("failure_message", se.Message),
		)
	} else {
		metrics.EmailsSent.Inc()
	}

	if err := w.store.InsertSentLog(ctx, &rec); err != nil {
		w.log.Error("failed to insert sent log",
			zap.String("job_id", task.JobID),
			zap.Error(err),
		)
	}

	// Notification sends are outside the recipient set and never touch
	// the job counters.
	if task.Notify {
		return nil
	}

	if err := w.store.ApplySendOutcome(ctx, task.JobID, rec.SentStatus, sentAt); err != nil {
		w.log.Error("failed to update job counters",
			zap.String("job_id", task.JobID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
