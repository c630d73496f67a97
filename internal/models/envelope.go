package models

// MaxAttachments is the number of attachment descriptor slots carried per
// recipient row.
const MaxAttachments = 6

// Envelope is the flattened message description for a single recipient.
// Fields keep the raw wire form from the recipient source: multi-address
// fields use `;`-separated addresses with an optional `: Display Name`
// suffix, attachments are JSON descriptor blobs.
type Envelope struct {
	SMTPJSON    string                 `json:"smtp_json,omitempty"`
	From        string                 `json:"from"`
	Sender      string                 `json:"sender,omitempty"`
	ReturnPath  string                 `json:"return_path,omitempty"`
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body"`
	To          string                 `json:"to"`
	ReplyTo     string                 `json:"reply_to,omitempty"`
	CC          string                 `json:"cc,omitempty"`
	BCC         string                 `json:"bcc,omitempty"`
	Attachments [MaxAttachments]string `json:"attachments,omitempty"`
}

// Attachment is the decoded form of one attachment descriptor.
// Path may be a local file path or an http(s) URL. Type defaults to
// "simple"; ContentType is required for inline attachments.
type Attachment struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

const (
	AttachmentSimple = "simple"
	AttachmentInline = "inline"
)

// OrchestrationTask is the payload of the background task that drives one
// job, resubmitted with an incremented RetryNumber for each retry round.
type OrchestrationTask struct {
	JobID       string `json:"job_id"`
	NotifyTo    string `json:"notify_to,omitempty"`
	CSVName     string `json:"recipients_csv_file_name"`
	RetryNumber int    `json:"retry_number"`
}

// SendTask is the payload handed to a send worker for one email.
// Notify marks lifecycle notification sends, which are excluded from the
// job counters.
type SendTask struct {
	JobID       string   `json:"job_id"`
	RetryNumber int      `json:"retry_number"`
	Envelope    Envelope `json:"envelope"`
	Notify      bool     `json:"notify,omitempty"`
}
