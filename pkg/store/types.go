package store

import "time"

// Status is a domain's lifecycle state. Transitions are
// pending -> processing -> (completed | completed_partial | error) -> pending;
// rows are never destroyed.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusCompletedPartial Status = "completed_partial"
	StatusError            Status = "error"
)

// maxConsecutiveErrors parks a domain as error after this many
// requeues in a row without a completed cycle in between.
const maxConsecutiveErrors = 3

// Domain is one observed hostname.
type Domain struct {
	ID                string
	Hostname          string
	Status            Status
	Source            string
	ProcessCount      int
	ErrorCount        int
	ConsecutiveErrors int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastProcessedAt   *time.Time
	LeaseOwner        *string
	LeaseExpiresAt    *time.Time
}

// ClaimedDomain is the slim projection handed to orchestrator workers.
type ClaimedDomain struct {
	ID       string
	Hostname string
}

// Response is one raw LLM reply, persisted verbatim.
type Response struct {
	ID               string
	DomainID         string
	Provider         string
	Model            string
	PromptTemplateID string
	PromptText       string
	ResponseText     string
	PromptTokens     int
	CompletionTokens int
	TotalCostUSD     float64
	LatencyMS        int
	CapturedAt       time.Time
}

// PromptTemplate is a versioned question shape with a single {domain}
// substitution site. Templates are immutable; a change is a new id.
type PromptTemplate struct {
	ID        string
	Body      string
	Category  string
	CreatedAt time.Time
}

// EventKind labels an audit event.
type EventKind string

const (
	EventClaim         EventKind = "claim"
	EventRelease       EventKind = "release"
	EventCallSuccess   EventKind = "call_success"
	EventCallFailure   EventKind = "call_failure"
	EventCircuitOpen   EventKind = "circuit_open"
	EventCircuitClose  EventKind = "circuit_close"
	EventSchedulerTick EventKind = "scheduler_tick"
	EventGuardianBlock EventKind = "guardian_block"
)

// ProviderActivity summarizes one provider's recent output for the
// guardian's model-failure detector.
type ProviderActivity struct {
	Provider   string
	ActiveDays int
	RecentRows int
}
