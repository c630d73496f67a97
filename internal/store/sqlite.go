package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"massmail/internal/models"
)

// SQLite is the database/sql backed Store implementation. Timestamps are
// stored as UTC text in timeLayout so date arithmetic stays inside SQL.
type SQLite struct {
	db *sql.DB
}

const timeLayout = "2006-01-02 15:04:05"

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// counter updates.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	status             TEXT NOT NULL DEFAULT 'Started',
	total_count        INTEGER NOT NULL DEFAULT 0,
	executed_count     INTEGER NOT NULL DEFAULT 0,
	sent_count         INTEGER NOT NULL DEFAULT 0,
	not_sent_count     INTEGER NOT NULL DEFAULT 0,
	canceled_count     INTEGER NOT NULL DEFAULT 0,
	percent_completed  INTEGER NOT NULL DEFAULT 0,
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	started_at         TEXT NOT NULL,
	ended_at           TEXT,
	canceled_at        TEXT,
	notify_to          TEXT NOT NULL DEFAULT '',
	retry_number       INTEGER NOT NULL DEFAULT 0,
	worker_pool        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sent_log (
	job_id            TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
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
	sent_at           TEXT NOT NULL,
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

func (s *SQLite) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return err
	}
	for _, t := range defaultTemplates {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO templates
			 (template_code, template_description, smtp_json, from_addr, subject, body, reply_to, cc, bcc)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			t.Code, t.Description, t.SMTPJSON, t.From, t.Subject, t.Body, t.ReplyTo, t.CC, t.BCC,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func (s *SQLite) InsertJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs
		 (job_id, status, total_count, executed_count, sent_count, not_sent_count,
		  canceled_count, percent_completed, time_spent_seconds, started_at,
		  notify_to, retry_number, worker_pool)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Status, job.TotalCount, job.ExecutedCount, job.SentCount,
		job.NotSentCount, job.CanceledCount, job.PercentCompleted,
		job.TimeSpentSeconds, fmtTime(job.StartedAt), job.NotifyTo,
		job.RetryNumber, job.WorkerPool,
	)
	return err
}

func (s *SQLite) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, status, total_count, executed_count, sent_count,
		        not_sent_count, canceled_count, percent_completed,
		        time_spent_seconds, started_at, ended_at, canceled_at,
		        notify_to, retry_number, worker_pool
		   FROM jobs WHERE job_id = ?`,
		jobID,
	)

	var (
		job                 models.Job
		startedAt           string
		endedAt, canceledAt sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Status, &job.TotalCount, &job.ExecutedCount,
		&job.SentCount, &job.NotSentCount, &job.CanceledCount,
		&job.PercentCompleted, &job.TimeSpentSeconds, &startedAt,
		&endedAt, &canceledAt, &job.NotifyTo, &job.RetryNumber,
		&job.WorkerPool,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if job.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		job.EndedAt = &t
	}
	if canceledAt.Valid {
		t, err := parseTime(canceledAt.String)
		if err != nil {
			return nil, err
		}
		job.CanceledAt = &t
	}
	job.TimeSpent = models.FormatDuration(job.TimeSpentSeconds)
	return &job, nil
}

func (s *SQLite) ApplySendOutcome(ctx context.Context, jobID string, status models.SentStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
		    executed_count     = executed_count + 1,
		    sent_count         = sent_count + (CASE WHEN ?2 = 'Sent' THEN 1 ELSE 0 END),
		    not_sent_count     = not_sent_count + (CASE WHEN ?2 = 'Not Sent' THEN 1 ELSE 0 END),
		    percent_completed  = CAST(ROUND((executed_count + 1) * 100.0 / total_count) AS INTEGER),
		    status             = CASE WHEN executed_count + 1 >= total_count THEN 'Completed' ELSE 'Processing' END,
		    ended_at           = CASE WHEN executed_count + 1 >= total_count THEN ?3 ELSE ended_at END,
		    time_spent_seconds = CAST(strftime('%s', ?3) - strftime('%s', started_at) AS INTEGER)
		  WHERE job_id = ?1
		    AND executed_count < total_count
		    AND status <> 'Canceled'`,
		jobID, string(status), fmtTime(at),
	)
	return err
}

func (s *SQLite) SetRetryNumber(ctx context.Context, jobID string, retryNumber int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET retry_number = ?2
		  WHERE job_id = ?1 AND retry_number < ?2`,
		jobID, retryNumber,
	)
	return err
}

func (s *SQLite) MarkCanceled(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
		    status = 'Canceled',
		    canceled_count = total_count - executed_count,
		    canceled_at = ?2
		  WHERE job_id = ?1
		    AND status NOT IN ('Completed', 'Canceled')`,
		jobID, fmtTime(at),
	)
	return err
}

func (s *SQLite) InsertSentLog(ctx context.Context, rec *models.SentLogRecord) error {
	env := rec.Envelope
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_log
		 (job_id, retry_number, smtp_json, from_addr, sender, return_path,
		  subject, body, to_addr, reply_to, cc, bcc,
		  attachment_1_json, attachment_2_json, attachment_3_json,
		  attachment_4_json, attachment_5_json, attachment_6_json,
		  sent_at, sent_status, failure_code, failure_message, failure_detail)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.JobID, rec.RetryNumber, env.SMTPJSON, env.From, env.Sender,
		env.ReturnPath, env.Subject, env.Body, env.To, env.ReplyTo, env.CC,
		env.BCC, env.Attachments[0], env.Attachments[1], env.Attachments[2],
		env.Attachments[3], env.Attachments[4], env.Attachments[5],
		fmtTime(rec.SentAt), rec.SentStatus, rec.FailureCode,
		rec.FailureMessage, rec.FailureDetail,
	)
	return err
}

func (s *SQLite) TemplateByCode(ctx context.Context, code string) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT template_code, template_description, smtp_json, from_addr,
		        subject, body, reply_to, cc, bcc
		   FROM templates WHERE LOWER(template_code) = LOWER(?)`,
		code,
	)

	var t models.Template
	err := row.Scan(&t.Code, &t.Description, &t.SMTPJSON, &t.From, &t.Subject,
		&t.Body, &t.ReplyTo, &t.CC, &t.BCC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) NotSentEnvelopes(ctx context.Context, jobID string, retryNumber int, codes []string) ([]models.Envelope, error) {
	query := `SELECT smtp_json, from_addr, sender, return_path, subject, body,
	                 to_addr, reply_to, cc, bcc,
	                 attachment_1_json, attachment_2_json, attachment_3_json,
	                 attachment_4_json, attachment_5_json, attachment_6_json
	            FROM sent_log
	           WHERE job_id = ? AND retry_number = ? AND sent_status = 'Not Sent'`
	args := []any{jobID, retryNumber}
	if len(codes) > 0 {
		query += ` AND failure_code IN (?` + strings.Repeat(",?", len(codes)-1) + `)`
		for _, c := range codes {
			args = append(args, c)
		}
	}
	query += ` ORDER BY sent_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLite) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE started_at <= ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
