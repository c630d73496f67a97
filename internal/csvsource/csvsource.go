// Package csvsource reads and writes recipient source files: a header row
// of ___VAR___ column names followed by one row per recipient. Known
// columns map onto the message envelope; any extra column becomes a
// template variable for subject/body substitution.
package csvsource

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"massmail/internal/models"
)

// Envelope column names in canonical write order.
const (
	ColSMTPJSON   = "___SMTP_JSON___"
	ColFrom       = "___FROM___"
	ColSender     = "___SENDER___"
	ColReturnPath = "___RETURN_PATH___"
	ColSubject    = "___SUBJECT___"
	ColBody       = "___BODY___"
	ColTo         = "___TO___"
	ColReplyTo    = "___REPLY_TO___"
	ColCC         = "___CC___"
	ColBCC        = "___BCC___"
)

func attachmentCol(i int) string {
	return fmt.Sprintf("___ATTACHMENT_%d_JSON___", i+1)
}

// Header returns the canonical column order used for retry exports.
func Header() []string {
	h := []string{
		ColSMTPJSON, ColFrom, ColSender, ColReturnPath, ColSubject,
		ColBody, ColTo, ColReplyTo, ColCC, ColBCC,
	}
	for i := 0; i < models.MaxAttachments; i++ {
		h = append(h, attachmentCol(i))
	}
	return h
}

// Row is one recipient: the mapped envelope plus every column of the row
// (including custom ones) keyed by header name.
type Row struct {
	Envelope models.Envelope
	Vars     map[string]string
}

// Count returns the number of data rows, excluding the header row.
func Count(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	count := 0
	for {
		if _, err := r.Read(); err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
		count++
	}
	if count > 0 {
		count--
	}
	return count, nil
}

// Reader streams recipient rows from one source file.
type Reader struct {
	f       *os.File
	r       *csv.Reader
	headers []string
}

// Open reads the header row and positions the reader at the first
// recipient.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("csvsource: %s has no header row", path)
		}
		return nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	return &Reader{f: f, r: r, headers: headers}, nil
}

// Next returns the next recipient row, or io.EOF when exhausted.
func (rd *Reader) Next() (Row, error) {
	record, err := rd.r.Read()
	if err != nil {
		return Row{}, err
	}

	vars := make(map[string]string, len(rd.headers))
	for i, v := range record {
		if i < len(rd.headers) && rd.headers[i] != "" {
			vars[rd.headers[i]] = v
		}
	}

	env := models.Envelope{
		SMTPJSON:   vars[ColSMTPJSON],
		From:       vars[ColFrom],
		Sender:     vars[ColSender],
		ReturnPath: vars[ColReturnPath],
		Subject:    vars[ColSubject],
		Body:       vars[ColBody],
		To:         vars[ColTo],
		ReplyTo:    vars[ColReplyTo],
		CC:         vars[ColCC],
		BCC:        vars[ColBCC],
	}
	for i := 0; i < models.MaxAttachments; i++ {
		env.Attachments[i] = vars[attachmentCol(i)]
	}

	return Row{Envelope: env, Vars: vars}, nil
}

func (rd *Reader) Close() error { return rd.f.Close() }

// Write stores envelopes as a recipient source file in canonical column
// order, header row first. Used for retry round exports.
func Write(path string, envs []models.Envelope) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header()); err != nil {
		return err
	}
	for _, env := range envs {
		record := []string{
			env.SMTPJSON, env.From, env.Sender, env.ReturnPath,
			env.Subject, env.Body, env.To, env.ReplyTo, env.CC, env.BCC,
		}
		record = append(record, env.Attachments[:]...)
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
