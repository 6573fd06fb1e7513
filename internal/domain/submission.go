package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects the execution mode for a submission and the queue it is
// routed to.
type Kind string

const (
	// KindPrint runs the first test case only and streams its output.
	KindPrint Kind = "print"
	// KindAllCases runs every test case; the worker emits one result
	// message per case.
	KindAllCases Kind = "all-cases"
	// KindRaw executes the payload as-is with no test harness.
	KindRaw Kind = "raw"
)

// IsValid checks if the kind is one of the routed execution modes.
func (k Kind) IsValid() bool {
	return k == KindPrint || k == KindAllCases || k == KindRaw
}

// Language represents a supported programming language.
type Language string

const (
	LangPython     Language = "python"
	LangCpp        Language = "cpp"
	LangJavaScript Language = "javascript"
	LangGo         Language = "go"
)

// IsValid checks if the language is supported.
func (l Language) IsValid() bool {
	switch l {
	case LangPython, LangCpp, LangJavaScript, LangGo:
		return true
	}
	return false
}

// Submission is the immutable record of an accepted request. It is created
// by the gateway once the idempotency and quota gates have passed and is
// never mutated afterwards.
type Submission struct {
	JobID          uuid.UUID `json:"job_id"`
	UserID         string    `json:"user_id"`
	Code           string    `json:"code"`
	Language       Language  `json:"language"`
	Kind           Kind      `json:"kind"`
	ProblemID      string    `json:"problem_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// JobMessage is the contract published to the execution worker. The worker
// is external to this pipeline; only the shape is owned here.
type JobMessage struct {
	JobID        uuid.UUID  `json:"job_id"`
	UserID       string     `json:"user_id"`
	Code         string     `json:"code"`
	Language     Language   `json:"language"`
	Kind         Kind       `json:"kind"`
	TestCases    []TestCase `json:"test_cases,omitempty"`
	ClientConnID string     `json:"client_conn_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TestCase is one input/expected pair handed to the worker for
// kind=print and kind=all-cases submissions.
type TestCase struct {
	CaseID   string `json:"case_id"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// PendingJob is the short-lived cache marker written at enqueue time so a
// result arriving after a crash can still be correlated to its origin.
type PendingJob struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Code         string    `json:"code"`
	Language     Language  `json:"language"`
	ClientConnID string    `json:"client_conn_id"`
}

// SubmitRequest represents an incoming code submission from the API.
type SubmitRequest struct {
	UserID         string     `json:"-"`
	Code           string     `json:"code" binding:"required"`
	Language       Language   `json:"language" binding:"required"`
	Kind           Kind       `json:"kind" binding:"required"`
	ProblemID      string     `json:"problem_id"`
	TestCases      []TestCase `json:"test_cases"`
	ClientConnID   string     `json:"client_id"`
	IdempotencyKey string     `json:"-"`
}

// SubmitResponse is returned after a successful submission. Worker
// outcomes are never delivered on this path; only the job identifier is.
type SubmitResponse struct {
	JobID uuid.UUID `json:"job_id"`
}
