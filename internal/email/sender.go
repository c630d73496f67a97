// Package email transmits one flattened message envelope per call over
// SMTP and classifies failures for the retry filter.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"

	"massmail/internal/models"
)

// Sender builds and transmits messages with gomail. A per-message SMTP
// override in the envelope replaces the configured defaults.
type Sender struct {
	Host     string
	Port     int
	Username string
	Password string

	// HTTPClient fetches URL attachments. Defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

type smtpOverride struct {
	Host       string `json:"host"`
	Port       string `json:"port"`
	Encryption string `json:"encryption"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// Send transmits one email. Returned errors are always *SendError after
// Classify; validation failures carry CodeInvalidEnvelope.
func (s *Sender) Send(ctx context.Context, env models.Envelope) error {
	m, cleanup, err := s.compose(ctx, env)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return Classify(err)
	}

	d, err := s.dialer(env.SMTPJSON)
	if err != nil {
		return Classify(err)
	}

	// Transient dial errors get a couple of quick retries; one Send call
	// still produces at most one delivered message and one outcome.
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return d.DialAndSend(m)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, 2)); err != nil {
		return Classify(err)
	}
	return nil
}

func (s *Sender) dialer(smtpJSON string) (*gomail.Dialer, error) {
	host, port := s.Host, s.Port
	user, pass := s.Username, s.Password
	ssl := false

	if strings.TrimSpace(smtpJSON) != "" {
		var o smtpOverride
		if err := json.Unmarshal([]byte(smtpJSON), &o); err != nil {
			return nil, envelopeErr("invalid smtp override json: %v", err)
		}
		if o.Host != "" {
			host = o.Host
		}
		if o.Port != "" {
			p, err := strconv.Atoi(o.Port)
			if err != nil {
				return nil, envelopeErr("invalid smtp override port %q", o.Port)
			}
			port = p
		}
		if o.Username != "" {
			user = o.Username
		}
		if o.Password != "" {
			pass = o.Password
		}
		ssl = strings.EqualFold(o.Encryption, "ssl")
	}

	d := gomail.NewDialer(host, port, user, pass)
	d.SSL = ssl
	return d, nil
}

func (s *Sender) compose(ctx context.Context, env models.Envelope) (*gomail.Message, func(), error) {
	m := gomail.NewMessage()

	from := ParseAddressList(env.From)
	if len(from) == 0 {
		return nil, nil, envelopeErr("from address cannot be empty")
	}
	m.SetHeader("From", formatAll(m, from)...)

	if sender := ParseAddress(env.Sender); sender.Address != "" {
		m.SetAddressHeader("Sender", sender.Address, sender.Name)
	}
	if rp := ValidateBare(env.ReturnPath); rp != "" {
		m.SetHeader("Return-Path", rp)
	}

	subject := strings.TrimSpace(env.Subject)
	if subject == "" {
		return nil, nil, envelopeErr("subject cannot be empty")
	}
	m.SetHeader("Subject", subject)

	if strings.TrimSpace(env.Body) == "" {
		return nil, nil, envelopeErr("body cannot be empty")
	}
	m.SetBody("text/plain", StripTags(env.Body))
	m.AddAlternative("text/html", env.Body)

	to := ParseAddressList(env.To)
	if len(to) == 0 {
		return nil, nil, envelopeErr("to address cannot be empty")
	}
	m.SetHeader("To", formatAll(m, to)...)

	if rt := ParseAddressList(env.ReplyTo); len(rt) > 0 {
		m.SetHeader("Reply-To", formatAll(m, rt)...)
	}
	if cc := ParseAddressList(env.CC); len(cc) > 0 {
		m.SetHeader("Cc", formatAll(m, cc)...)
	}
	if bcc := ParseAddressList(env.BCC); len(bcc) > 0 {
		m.SetHeader("Bcc", formatAll(m, bcc)...)
	}

	cleanup, err := s.attachAll(ctx, m, env)
	return m, cleanup, err
}

func formatAll(m *gomail.Message, addrs []Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = m.FormatAddress(a.Address, a.Name)
	}
	return out
}

func (s *Sender) attachAll(ctx context.Context, m *gomail.Message, env models.Envelope) (func(), error) {
	var tmpFiles []string
	cleanup := func() {
		for _, f := range tmpFiles {
			os.Remove(f)
		}
	}

	for i, raw := range env.Attachments {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		var att models.Attachment
		if err := json.Unmarshal([]byte(raw), &att); err != nil {
			return cleanup, envelopeErr("attachment %d: invalid json: %v", i+1, err)
		}
		att.Path = strings.TrimSpace(att.Path)
		att.Name = strings.TrimSpace(att.Name)
		if att.Path == "" {
			return cleanup, envelopeErr("attachment %d: path must be a URL or file path", i+1)
		}
		if att.Name == "" {
			return cleanup, envelopeErr("attachment %d: name cannot be empty", i+1)
		}

		inline := strings.EqualFold(att.Type, models.AttachmentInline)
		if inline && att.ContentType == "" {
			return cleanup, envelopeErr("attachment %d: content_type required for inline attachment", i+1)
		}

		path := att.Path
		if isURL(path) {
			tmp, err := s.fetch(ctx, path)
			if err != nil {
				return cleanup, envelopeErr("attachment %d: %v", i+1, err)
			}
			tmpFiles = append(tmpFiles, tmp)
			path = tmp
		} else if _, err := os.Stat(path); err != nil {
			return cleanup, envelopeErr("attachment %d: file not found at %q", i+1, att.Path)
		}

		settings := []gomail.FileSetting{gomail.Rename(att.Name)}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		if inline {
			m.Embed(path, settings...)
		} else {
			m.Attach(path, settings...)
		}
	}
	return cleanup, nil
}

func isURL(path string) bool {
	p := strings.ToLower(path)
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

func (s *Sender) fetch(ctx context.Context, url string) (string, error) {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "massmail-att-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
