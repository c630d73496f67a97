package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Failure classification codes not derived from an SMTP reply.
const (
	CodeInvalidEnvelope = "500"
	CodeBrokerRejected  = "503"
)

// SendError is a classified send failure. Code is either an SMTP reply
// code lifted from the transport error or one of the synthetic codes
// above; it drives retry eligibility filtering.
type SendError struct {
	Code    string
	Message string
	Detail  string
}

func (e *SendError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
}

func envelopeErr(format string, args ...any) *SendError {
	return &SendError{Code: CodeInvalidEnvelope, Message: fmt.Sprintf(format, args...)}
}

var smtpCodeRe = regexp.MustCompile(`\b([245]\d\d)\b`)

// Classify converts any error from the transport into a SendError,
// extracting the SMTP reply code from the error text when one is present.
func Classify(err error) *SendError {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		if se.Detail == "" {
			se.Detail = detailJSON(err)
		}
		return se
	}

	code := ""
	if m := smtpCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code = m[1]
	}
	return &SendError{
		Code:    code,
		Message: err.Error(),
		Detail:  detailJSON(err),
	}
}

func detailJSON(err error) string {
	b, _ := json.Marshal(map[string]string{
		"error_type": fmt.Sprintf("%T", err),
		"error":      err.Error(),
	})
	return string(b)
}
