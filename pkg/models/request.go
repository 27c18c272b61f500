package models

import "time"

// RequestStage is the lifecycle label of a user request as it traverses the
// pipeline: Gateway → QueryProcessing → Completed, with Failed terminal from
// any non-terminal stage. No backward transitions and no skipping straight
// from Gateway to Completed.
type RequestStage string

const (
	StageGateway         RequestStage = "Gateway"
	StageQueryProcessing RequestStage = "QueryProcessing"
	StageCompleted       RequestStage = "Completed"
	StageFailed          RequestStage = "Failed"
)

// Terminal reports whether no further stage transitions are allowed.
func (s RequestStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// ValidStageTransition reports whether a request may move from one stage to
// another. Re-writing the current stage is permitted (idempotent updates).
func ValidStageTransition(from, to RequestStage) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StageFailed:
		return true
	case StageQueryProcessing:
		return from == StageGateway
	case StageCompleted:
		return from == StageQueryProcessing
	}
	return false
}

// RequestStatus is the synchronous submission outcome returned by the gateway.
type RequestStatus string

// StatusAccepted acknowledges that a query was enqueued for processing.
const StatusAccepted RequestStatus = "Accepted"

// QueryResponse is the gateway's synchronous answer to a submission.
type QueryResponse struct {
	RequestID string        `json:"request_id"`
	Status    RequestStatus `json:"status"`
}

// QueryFilters narrows retrieval for a query. Zero-value fields are ignored;
// the date range is inclusive on published_at.
type QueryFilters struct {
	Sources    []string   `json:"sources,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	DateFrom   *time.Time `json:"date_from,omitempty"`
	DateTo     *time.Time `json:"date_to,omitempty"`
}

// QueryRequest is a natural-language question submitted by a client.
type QueryRequest struct {
	Query   string        `json:"query"`
	Filters *QueryFilters `json:"filters,omitempty"`
}

// SourceReference cites one article used to synthesize an answer.
type SourceReference struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	SourceURL   string    `json:"source_url"`
	PublishedAt time.Time `json:"published_at"`
}

// QueryResult is the synthesized answer for a completed request. Emitted
// exactly once per request.
type QueryResult struct {
	Answer    string            `json:"answer"`
	Sources   []SourceReference `json:"sources"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Model     string            `json:"model"`
	LatencyMS float64           `json:"latency_ms"`
}

// ProcessedRequest is the state record of a request, keyed by RequestID in
// the state store. QueryResult is present iff Stage is Completed;
// ErrorMessage is present iff Stage is Failed.
type ProcessedRequest struct {
	RequestID    string       `json:"request_id"`
	QueryRequest QueryRequest `json:"query_request"`
	Stage        RequestStage `json:"stage"`
	QueryResult  *QueryResult `json:"query_result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
