package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"massmail/internal/models"
)

// Postgres is the pgx-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             CHAR(64) PRIMARY KEY,
	status             TEXT NOT NULL DEFAULT 'Started',
	total_count        INTEGER NOT NULL DEFAULT 0,
	executed_count     INTEGER NOT NULL DEFAULT 0,
	sent_count         INTEGER NOT NULL DEFAULT 0,
	not_sent_count     INTEGER NOT NULL DEFAULT 0,
	canceled_count     INTEGER NOT NULL DEFAULT 0,
	percent_completed  INTEGER NOT NULL DEFAULT 0,
	time_spent_seconds BIGINT NOT NULL DEFAULT 0,
	started_at         TIMESTAMPTZ NOT NULL,
	ended_at           TIMESTAMPTZ,
	canceled_at        TIMESTAMPTZ,
	notify_to          TEXT NOT NULL DEFAULT '',
	retry_number       INTEGER NOT NULL DEFAULT 0,
	worker_pool        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sent_log (
	job_id            CHAR(64) NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	retry_number      INTEGER NOT NULL,
	smtp_json         TEXT NOT NULL DEFAULT '',
	from_addr         TEXT NOT NULL DEFAULT '',
	sender            TEXT NOT NULL DEFAULT '',
	return_path       TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	body              TEXT NOT NULL DEFAULT '',
	to_addr           TEXT NOT NULL DEFAULT '',
	reply_to          TEXT NOT NULL DEFAULT '',
	cc                TEXT NOT NULL DEFAULT '',
	bcc               TEXT NOT NULL DEFAULT '',
	attachment_1_json TEXT NOT NULL DEFAULT '',
	attachment_2_json TEXT NOT NULL DEFAULT '',
	attachment_3_json TEXT NOT NULL DEFAULT '',
	attachment_4_json TEXT NOT NULL DEFAULT '',
	attachment_5_json TEXT NOT NULL DEFAULT '',
	attachment_6_json TEXT NOT NULL DEFAULT '',
	sent_at           TIMESTAMPTZ NOT NULL,
	sent_status       TEXT NOT NULL DEFAULT 'Not Sent',
	failure_code      TEXT NOT NULL DEFAULT '',
	failure_message   TEXT NOT NULL DEFAULT '',
	failure_detail    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sent_log_outcome ON sent_log (job_id, retry_number, sent_status);

CREATE TABLE IF NOT EXISTS templates (
	template_code        TEXT PRIMARY KEY,
	template_description TEXT NOT NULL DEFAULT '',
	smtp_json            TEXT NOT NULL DEFAULT '',
	from_addr            TEXT NOT NULL DEFAULT '',
	subject              TEXT NOT NULL DEFAULT '',
	body                 TEXT NOT NULL DEFAULT '',
	reply_to             TEXT NOT NULL DEFAULT '',
	cc                   TEXT NOT NULL DEFAULT '',
	bcc                  TEXT NOT NULL DEFAULT ''
);
`

func (s *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return err
	}
	for _, t := range defaultTemplates {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO templates
			 (template_code, template_description, smtp_json, from_addr, subject, body, reply_to, cc, bcc)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (template_code) DO NOTHING`,
			t.Code, t.Description, t.SMTPJSON, t.From, t.Subject, t.Body, t.ReplyTo, t.CC, t.BCC,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) InsertJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs
		 (job_id, status, total_count, executed_count, sent_count, not_sent_count,
		  canceled_count, percent_completed, time_spent_seconds, started_at,
		  notify_to, retry_number, worker_pool)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		job.ID, job.Status, job.TotalCount, job.ExecutedCount, job.SentCount,
		job.NotSentCount, job.CanceledCount, job.PercentCompleted,
		job.TimeSpentSeconds, job.StartedAt, job.NotifyTo, job.RetryNumber,
		job.WorkerPool,
	)
	return err
}

func (s *Postgres) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, status, total_count, executed_count, sent_count,
		        not_sent_count, canceled_count, percent_completed,
		        time_spent_seconds, started_at, ended_at, canceled_at,
		        notify_to, retry_number, worker_pool
		   FROM jobs WHERE job_id = $1`,
		jobID,
	)

	var job models.Job
	err := row.Scan(
		&job.ID, &job.Status, &job.TotalCount, &job.ExecutedCount,
		&job.SentCount, &job.NotSentCount, &job.CanceledCount,
		&job.PercentCompleted, &job.TimeSpentSeconds, &job.StartedAt,
		&job.EndedAt, &job.CanceledAt, &job.NotifyTo, &job.RetryNumber,
		&job.WorkerPool,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.TimeSpent = models.FormatDuration(job.TimeSpentSeconds)
	return &job, nil
}

func (s *Postgres) ApplySendOutcome(ctx context.Context, jobID string, status models.SentStatus, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		    executed_count     = executed_count + 1,
		    sent_count         = sent_count + (CASE WHEN $2 = 'Sent' THEN 1 ELSE 0 END),
		    not_sent_count     = not_sent_count + (CASE WHEN $2 = 'Not Sent' THEN 1 ELSE 0 END),
		    percent_completed  = CAST(ROUND((executed_count + 1) * 100.0 / total_count) AS INTEGER),
		    status             = CASE WHEN executed_count + 1 >= total_count THEN 'Completed' ELSE 'Processing' END,
		    ended_at           = CASE WHEN executed_count + 1 >= total_count THEN $3 ELSE ended_at END,
		    time_spent_seconds = CAST(EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) AS BIGINT)
		  WHERE job_id = $1
		    AND executed_count < total_count
		    AND status <> 'Canceled'`,
		jobID, string(status), at,
	)
	return err
}

func (s *Postgres) SetRetryNumber(ctx context.Context, jobID string, retryNumber int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET retry_number = $2
		  WHERE job_id = $1 AND retry_number < $2`,
		jobID, retryNumber,
	)
	return err
}

func (s *Postgres) MarkCanceled(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		    status = 'Canceled',
		    canceled_count = total_count - executed_count,
		    canceled_at = $2
		  WHERE job_id = $1
		    AND status NOT IN ('Completed', 'Canceled')`,
		jobID, at,
	)
	return err
}

func (s *Postgres) InsertSentLog(ctx context.Context, rec *models.SentLogRecord) error {
	env := rec.Envelope
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sent_log
		 (job_id, retry_number, smtp_json, from_addr, sender, return_path,
		  subject, body, to_addr, reply_to, cc, bcc,
		  attachment_1_json, attachment_2_json, attachment_3_json,
		  attachment_4_json, attachment_5_json, attachment_6_json,
		  sent_at, sent_status, failure_code, failure_message, failure_detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,
		         $13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		rec.JobID, rec.RetryNumber, env.SMTPJSON, env.From, env.Sender,
		env.ReturnPath, env.Subject, env.Body, env.To, env.ReplyTo, env.CC,
		env.BCC, env.Attachments[0], env.Attachments[1], env.Attachments[2],
		env.Attachments[3], env.Attachments[4], env.Attachments[5],
		rec.SentAt, rec.SentStatus, rec.FailureCode, rec.FailureMessage,
		rec.FailureDetail,
	)
	return err
}

func (s *Postgres) TemplateByCode(ctx context.Context, code string) (*models.Template, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT template_code, template_description, smtp_json, from_addr,
		        subject, body, reply_to, cc, bcc
		   FROM templates WHERE LOWER(template_code) = LOWER($1)`,
		code,
	)

	var t models.Template
	err := row.Scan(&t.Code, &t.Description, &t.SMTPJSON, &t.From, &t.Subject,
		&t.Body, &t.ReplyTo, &t.CC, &t.BCC)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Postgres) NotSentEnvelopes(ctx context.Context, jobID string, retryNumber int, codes []string) ([]models.Envelope, error) {
	query := `SELECT smtp_json, from_addr, sender, return_path, subject, body,
	                 to_addr, reply_to, cc, bcc,
	                 attachment_1_json, attachment_2_json, attachment_3_json,
	                 attachment_4_json, attachment_5_json, attachment_6_json
	            FROM sent_log
	           WHERE job_id = $1 AND retry_number = $2 AND sent_status = 'Not Sent'`
	args := []any{jobID, retryNumber}
	if len(codes) > 0 {
		query += ` AND failure_code = ANY($3)`
		args = append(args, codes)
	}
	query += ` ORDER BY sent_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Envelope
	for rows.Next() {
		var env models.Envelope
		if err := rows.Scan(
			&env.SMTPJSON, &env.From, &env.Sender, &env.ReturnPath,
			&env.Subject, &env.Body, &env.To, &env.ReplyTo, &env.CC, &env.BCC,
			&env.Attachments[0], &env.Attachments[1], &env.Attachments[2],
			&env.Attachments[3], &env.Attachments[4], &env.Attachments[5],
		); err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *Postgres) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE started_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
