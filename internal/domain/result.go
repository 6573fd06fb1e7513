package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the worker-reported outcome of a job. A failed or unsafe
// status is a normal result value, not a pipeline error.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailed  ResultStatus = "failed"
	// StatusUnsafe means the worker refused to execute the payload. The
	// message carries a reason instead of output and duration.
	StatusUnsafe ResultStatus = "unsafe"
)

// IsValid checks if the status is one the worker may report.
func (s ResultStatus) IsValid() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusUnsafe
}

// ResultMessage is the contract consumed from the execution worker. For
// kind=all-cases the worker emits one message per test case, tagged with
// TestCaseNumber and TotalTestCases; the stream is complete once every
// advertised case has arrived, in any order.
type ResultMessage struct {
	JobID        uuid.UUID    `json:"job_id"`
	UserID       string       `json:"user_id"`
	Kind         Kind         `json:"kind"`
	Status       ResultStatus `json:"status"`
	Output       string       `json:"output,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	DurationSec  float64      `json:"duration_sec"`
	ClientConnID string       `json:"client_conn_id"`
	ProblemID    string       `json:"problem_id,omitempty"`

	// Per-case fields, set only for kind=all-cases messages.
	TestCaseNumber int             `json:"test_case_number,omitempty"`
	TotalTestCases int             `json:"total_test_cases,omitempty"`
	TestCase       *TestCaseResult `json:"test_case,omitempty"`
}

// TestCaseResult is the outcome of one test case inside an all-cases run.
type TestCaseResult struct {
	CaseID         string  `json:"case_id"`
	TestCaseNumber int     `json:"test_case_number"`
	Input          string  `json:"input"`
	Expected       string  `json:"expected"`
	Actual         string  `json:"actual"`
	Passed         bool    `json:"passed"`
	DurationSec    float64 `json:"duration_sec"`
}

// ResultRecord is the durable ledger row for one completed job. TieBreak
// disambiguates records sharing the same millisecond timestamp: values are
// unique and dense starting at 1 within a (UserID, CreatedAt-millisecond)
// group, and the stored CreatedAt of record N is nudged by (N-1)ms so the
// (CreatedAt, TieBreak) composite key is a strict total order per user.
type ResultRecord struct {
	JobID       uuid.UUID        `json:"job_id"`
	UserID      string           `json:"user_id"`
	Kind        Kind             `json:"kind"`
	Language    Language         `json:"language,omitempty"`
	Status      ResultStatus     `json:"status"`
	Output      string           `json:"output,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	DurationSec float64          `json:"duration_sec"`
	TestCases   []TestCaseResult `json:"test_cases,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	TieBreak    int64            `json:"tie_break"`
}

// Cursor is the opaque keyset-pagination position: the (CreatedAt, TieBreak)
// sort key of the last record the client has seen. On the wire CreatedAt is
// unix milliseconds, the exact value the list endpoint's cursor_created_at
// parameter accepts, so clients echo next_cursor back without converting.
type Cursor struct {
	CreatedAt time.Time
	TieBreak  int64
}

type cursorWire struct {
	CreatedAt int64 `json:"created_at"`
	TieBreak  int64 `json:"tie_break"`
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(cursorWire{CreatedAt: c.CreatedAt.UnixMilli(), TieBreak: c.TieBreak})
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw cursorWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.CreatedAt = time.UnixMilli(raw.CreatedAt).UTC()
	c.TieBreak = raw.TieBreak
	return nil
}

// LedgerPage is one page of ledger records in strictly decreasing
// (CreatedAt, TieBreak) order. NextCursor is nil when no records remain.
type LedgerPage struct {
	Records    []ResultRecord `json:"records"`
	NextCursor *Cursor        `json:"next_cursor"`
}
