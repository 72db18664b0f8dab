package models

import "time"

// Merge job statuses, in the order a successful job moves through them.
const (
	StatusIngesting = "INGESTING"
	StatusMerging   = "MERGING"
	StatusMerged    = "MERGED"
	StatusFailed    = "FAILED"
)

// MergeJob is the Firestore record of one merge batch. It tracks the
// ingestion tally and the final output location.
type MergeJob struct {
	BatchHash           string         `firestore:"batchHash,omitempty"`
	SourceBucket        string         `firestore:"sourceBucket,omitempty"`
	Objects             []string       `firestore:"objects,omitempty"`
	OutputObject        string         `firestore:"outputObject,omitempty"`
	Status              string         `firestore:"status,omitempty"`
	ErrorDetails        string         `firestore:"errorDetails,omitempty"`
	InputCount          int            `firestore:"inputCount"`
	DocumentCount       int            `firestore:"documentCount"`
	RecoveredCount      int            `firestore:"recoveredCount"`
	FailureCount        int            `firestore:"failureCount"`
	PageCount           int            `firestore:"pageCount,omitempty"`
	Failures            []InputFailure `firestore:"failures,omitempty"`
	WorkflowExecutionID string         `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time      `firestore:"createdAt,omitempty"`
}

// InputFailure describes one rejected input of a batch.
type InputFailure struct {
	Object string `firestore:"object" json:"object"`
	State  string `firestore:"state" json:"state"`
	Error  string `firestore:"error" json:"error"`
}
