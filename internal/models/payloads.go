package models

// These structs define the JSON payloads accepted and returned by the
// pdf-merger function, over HTTP or as a GCS manifest object.

// MergeRequest lists the objects of one batch, in merge order.
type MergeRequest struct {
	Bucket       string   `json:"bucket"`
	Objects      []string `json:"objects"`
	OutputName   string   `json:"outputName,omitempty"`
	AllowPartial bool     `json:"allowPartial,omitempty"`
	ExecutionID  string   `json:"executionId,omitempty"`
}

// MergeResponse is the outcome of a merge request.
type MergeResponse struct {
	Status       string         `json:"status"`
	JobID        string         `json:"jobId"`
	OutputGCSUri string         `json:"outputGcsUri,omitempty"`
	Documents    int            `json:"documents"`
	Recovered    int            `json:"recovered"`
	Failures     int            `json:"failures"`
	Pages        int            `json:"pages,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	Rejected     []InputFailure `json:"rejected,omitempty"`
}

// Response statuses.
const (
	ResponseMerged    = "merged"
	ResponseDuplicate = "duplicate"
	ResponseRejected  = "rejected"
)
