// Package domain defines the core domain models for the deal agent platform.
package domain

import "time"

// RunStatus represents the lifecycle status of an agent run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further status transition can occur.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// AgentType identifies one of the fixed agent configurations.
type AgentType string

const (
	AgentTypeDealAnalyst AgentType = "deal_analyst"
	AgentTypeDocReviewer AgentType = "doc_reviewer"
	AgentTypeRiskAdvisor AgentType = "risk_advisor"
)

// KnownAgentTypes lists every agent type the platform accepts.
var KnownAgentTypes = []AgentType{
	AgentTypeDealAnalyst,
	AgentTypeDocReviewer,
	AgentTypeRiskAdvisor,
}

// IsKnownAgentType reports whether t is a registered agent type.
func IsKnownAgentType(t AgentType) bool {
	for _, known := range KnownAgentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RunInput is the typed input payload of a run.
type RunInput struct {
	Query  string `json:"query"`
	FileID string `json:"file_id,omitempty"`
}

// RunOutput is the typed output payload of a completed run.
type RunOutput struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Usage captures token accounting reported by the model.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Deal is the collaboration record runs attach to.
type Deal struct {
	DealID    string    `json:"deal_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Run represents a single asynchronous invocation of an agent.
//
// Status transitions are monotonic: pending -> running -> completed|failed.
// Once terminal, a run never changes again; the store layer enforces this.
type Run struct {
	RunID        string     `json:"run_id"`
	DealID       string     `json:"deal_id"`
	AgentType    AgentType  `json:"agent_type"`
	Status       RunStatus  `json:"status"`
	Input        RunInput   `json:"input"`
	Output       *RunOutput `json:"output,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Message represents a single conversation turn tied to a run.
type Message struct {
	MessageID string    `json:"message_id"`
	DealID    string    `json:"deal_id"`
	RunID     string    `json:"run_id,omitempty"`
	Role      string    `json:"role"` // user, assistant, system
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StartRunRequest is the request body for starting a run.
type StartRunRequest struct {
	AgentType AgentType `json:"agent_type"`
	Query     string    `json:"query"`
	FileID    string    `json:"file_id,omitempty"`
}

// StartRunResponse is returned when a run has been accepted.
type StartRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// MessagesResponse is the paged message listing for a run.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// RunsResponse is the paged run history for a deal.
type RunsResponse struct {
	Runs     []Run `json:"runs"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// RunEvent is pushed to WebSocket subscribers when a run changes.
type RunEvent struct {
	Type    string    `json:"type"` // run_status, message
	Ts      int64     `json:"ts"`   // Unix milliseconds
	DealID  string    `json:"deal_id"`
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status,omitempty"`
	Message *Message  `json:"message,omitempty"`
}
