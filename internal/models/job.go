package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

type JobStatus string

const (
	StatusStarted    JobStatus = "Started"
	StatusProcessing JobStatus = "Processing"
	StatusCompleted  JobStatus = "Completed"
	StatusCanceled   JobStatus = "Canceled"
)

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

type SentStatus string

const (
	SentStatusSent    SentStatus = "Sent"
	SentStatusNotSent SentStatus = "Not Sent"
)

// Job is one mass-mail submission tracked through its retry lifecycle.
// Counters are monotonically non-decreasing and ExecutedCount never
// exceeds TotalCount.
type Job struct {
	ID               string     `json:"job_id"`
	Status           JobStatus  `json:"status"`
	TotalCount       int        `json:"total_count"`
	ExecutedCount    int        `json:"executed_count"`
	SentCount        int        `json:"sent_count"`
	NotSentCount     int        `json:"not_sent_count"`
	CanceledCount    int        `json:"canceled_count"`
	PercentCompleted int        `json:"percent_completed"`
	TimeSpentSeconds int64      `json:"time_spent_seconds"`
	TimeSpent        string     `json:"time_spent"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
	NotifyTo         string     `json:"notify_to,omitempty"`
	RetryNumber      int        `json:"retry_number"`
	WorkerPool       string     `json:"worker_pool"`
}

// SentLogRecord is the append-only outcome of one send attempt for one
// recipient within one retry round.
type SentLogRecord struct {
	JobID          string     `json:"job_id"`
	RetryNumber    int        `json:"retry_number"`
	Envelope       Envelope   `json:"envelope"`
	SentAt         time.Time  `json:"sent_at"`
	SentStatus     SentStatus `json:"sent_status"`
	FailureCode    string     `json:"failure_code,omitempty"`
	FailureMessage string     `json:"failure_message,omitempty"`
	FailureDetail  string     `json:"failure_detail,omitempty"`
}

// Template holds one notification email template keyed by code.
type Template struct {
	Code        string `json:"template_code"`
	Description string `json:"template_description"`
	SMTPJSON    string `json:"smtp_json,omitempty"`
	From        string `json:"from"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	ReplyTo     string `json:"reply_to,omitempty"`
	CC          string `json:"cc,omitempty"`
	BCC         string `json:"bcc,omitempty"`
}

// Notification template codes seeded at schema bootstrap.
const (
	TemplateJobStarted   = "job_started"
	TemplateJobCompleted = "job_completed"
	TemplateJobCanceled  = "job_canceled"
)

const jobIDLen = 64

// NewJobID returns a 64-char hex job id from a collision-resistant
// random source.
func NewJobID() string {
	buf := make([]byte, jobIDLen/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("models: rand.Read: %v", err))
	}
	return hex.EncodeToString(buf)
}

// ValidJobID reports whether id looks like a NewJobID product.
func ValidJobID(id string) bool {
	if len(id) != jobIDLen {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// FormatDuration renders a second count the way job summaries expect it,
// e.g. "1 Day 2 Hours 5 Minutes 1 Second".
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return "0 Second"
	}
	type unit struct {
		size     int64
		singular string
	}
	units := []unit{
		{86400, "Day"},
		{3600, "Hour"},
		{60, "Minute"},
		{1, "Second"},
	}
	out := ""
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		if n == 0 {
			continue
		}
		if out != "" {
			out += " "
		}
		if n == 1 {
			out += fmt.Sprintf("%d %s", n, u.singular)
		} else {
			out += fmt.Sprintf("%d %ss", n, u.singular)
		}
	}
	return out
}
