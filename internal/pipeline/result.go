package pipeline

import (
	"encoding/json"

	"github.com/raphaelgruber/askdb/internal/db"
)

// ErrorKind classifies how a run ended.
type ErrorKind string

// Error kinds. KindNone marks success and serializes as JSON null.
const (
	KindNone            ErrorKind = ""
	KindAPIQuota        ErrorKind = "api_quota"
	KindAPIQuotaPartial ErrorKind = "api_quota_partial"
	KindDatabase        ErrorKind = "database"
	KindUnknown         ErrorKind = "unknown"

	// Set by the HTTP layer, never by Run.
	KindServerError    ErrorKind = "server_error"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Label names the kind for metrics and logs; success is "ok".
func (k ErrorKind) Label() string {
	if k == KindNone {
		return "ok"
	}
	return string(k)
}

// MarshalJSON implements json.Marshaler.
func (k ErrorKind) MarshalJSON() ([]byte, error) {
	if k == KindNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(k))
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *ErrorKind) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*k = KindNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = ErrorKind(s)
	return nil
}

// Steps holds what each stage produced. A nil field means the stage was
// not reached and serializes as null.
type Steps struct {
	RelevantTables []string `json:"relevant_tables"`
	GeneratedSQL   *string  `json:"generated_sql"`
	QueryResults   []db.Row `json:"query_results"`
}

// Result is the outcome of one run.
type Result struct {
	Answer        string    `json:"answer,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     ErrorKind `json:"error_type"`
	OriginalError string    `json:"original_error,omitempty"`
	Steps         *Steps    `json:"intermediate_steps"`
}

// Failed reports whether the run produced no synthesized answer.
// A partial result still carries raw rows as its answer but counts as failed.
func (r Result) Failed() bool {
	return r.ErrorKind != KindNone
}
