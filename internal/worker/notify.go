package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"massmail/internal/models"
	"massmail/internal/templates"
)

const notifyTimeLayout = "02 Jan 2006 15:04:05"

// NotificationVars builds the placeholder set for job lifecycle
// notifications from the job's current row. detailsURL may contain a
// {job_id} marker that is replaced with the job id.
func NotificationVars(job *models.Job, detailsURL string) map[string]string {
	endedAt := "Unknown"
	if job.EndedAt != nil {
		endedAt = job.EndedAt.Format(notifyTimeLayout)
	}
	canceledAt := "Unknown"
	if job.CanceledAt != nil {
		canceledAt = job.CanceledAt.Format(notifyTimeLayout)
	}
	return map[string]string{
		"___JOB_DETAILS_URL___":       strings.ReplaceAll(detailsURL, "{job_id}", job.ID),
		"___JOB_ID___":                job.ID,
		"___JOB_RETRY_NUMBER___":      fmt.Sprintf("%d", job.RetryNumber),
		"___JOB_STATUS___":            string(job.Status),
		"___JOB_TOTAL_COUNT___":       fmt.Sprintf("%d", job.TotalCount),
		"___JOB_EXECUTED_COUNT___":    fmt.Sprintf("%d", job.ExecutedCount),
		"___JOB_SENT_COUNT___":        fmt.Sprintf("%d", job.SentCount),
		"___JOB_NOT_SENT_COUNT___":    fmt.Sprintf("%d", job.NotSentCount),
		"___JOB_CANCELED_COUNT___":    fmt.Sprintf("%d", job.CanceledCount),
		"___JOB_PERCENT_COMPLETED___": fmt.Sprintf("%d%%", job.PercentCompleted),
		"___JOB_TIME_SPENT___":        job.TimeSpent,
		"___JOB_STARTED_AT___":        job.StartedAt.Format(notifyTimeLayout),
		"___JOB_ENDED_AT___":          endedAt,
		"___JOB_CANCELED_AT___":       canceledAt,
	}
}

// NotificationEnvelope renders a stored template against vars and
// addresses it to the job's notification recipient.
func NotificationEnvelope(tpl *models.Template, vars map[string]string, to string) models.Envelope {
	return models.Envelope{
		SMTPJSON: tpl.SMTPJSON,
		From:     tpl.From,
		Subject:  templates.Render(tpl.Subject, vars),
		Body:     templates.Render(tpl.Body, vars),
		To:       to,
		ReplyTo:  tpl.ReplyTo,
		CC:       tpl.CC,
		BCC:      tpl.BCC,
	}
}

// notify sends one lifecycle notification through the given send worker
// function and waits for it. Notification failures are logged, never
// propagated; they must not change the fate of the job itself.
func (o *Orchestrator) notify(ctx context.Context, fn, jobID, templateCode, notifyTo string) {
	log := o.log.With(zap.String("job_id", jobID), zap.String("template", templateCode))

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		log.Warn("notification skipped, job row unavailable", zap.Error(err))
		return
	}
	tpl, err := o.store.TemplateByCode(ctx, templateCode)
	if err != nil || tpl == nil {
		log.Warn("notification skipped, template unavailable", zap.Error(err))
		return
	}

	env := NotificationEnvelope(tpl, NotificationVars(job, o.cfg.JobDetailsURL), notifyTo)
	payload, err := json.Marshal(models.SendTask{
		JobID:       jobID,
		RetryNumber: job.RetryNumber,
		Envelope:    env,
		Notify:      true,
	})
	if err != nil {
		log.Warn("notification skipped", zap.Error(err))
		return
	}

	t, err := o.broker.Submit(fn, payload)
	if err != nil {
		log.Warn("notification not queued", zap.Error(err))
		return
	}
	select {
	case <-t.Done():
		if err := t.Err(); err != nil {
			log.Warn("notification failed", zap.Error(err))
		}
	case <-ctx.Done():
	}
}
