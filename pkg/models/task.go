package models

import "time"

// Outcome summarises how a task run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// TaskExecutionResult records one task run. PromptsUsed is what the task
// reported and is charged regardless of Outcome.
type TaskExecutionResult struct {
	ID             int64     `json:"id,omitempty"`
	TaskName       string    `json:"task_name"`
	PromptsUsed    int64     `json:"prompts_used"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsCreated   int       `json:"items_created"`
	Outcome        Outcome   `json:"result"`
	Message        string    `json:"message,omitempty"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// ReviewStatus is the human review state of an autonomously created item.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusApproved ReviewStatus = "approved"
	StatusDeclined ReviewStatus = "declined"
)

// AcquisitionSuggestion proposes acquiring an item the collection references
// but does not hold.
type AcquisitionSuggestion struct {
	ID         string       `json:"id"`
	ItemType   string       `json:"item_type"`
	Identifier string       `json:"identifier"`
	Reason     string       `json:"reason"`
	Importance int          `json:"importance"`
	Source     string       `json:"source"`
	Status     ReviewStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	DecidedAt  *time.Time   `json:"decided_at,omitempty"`
	DecidedBy  string       `json:"decided_by,omitempty"`
}

// AnalysisArtifact is generated commentary about a subject, awaiting review.
type AnalysisArtifact struct {
	ID        string       `json:"id"`
	Subject   string       `json:"subject"`
	Kind      string       `json:"kind"`
	Body      string       `json:"body"`
	Source    string       `json:"source"`
	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Reference is a citation in the collection that is not yet linked to a held item.
type Reference struct {
	ID         string `json:"id" yaml:"id"`
	ItemType   string `json:"item_type" yaml:"item_type"`
	Identifier string `json:"identifier" yaml:"identifier"`
	Context    string `json:"context" yaml:"context"`
}

// Paper is a held document that may be analysed.
type Paper struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Abstract string `json:"abstract" yaml:"abstract"`
}
