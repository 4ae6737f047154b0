// Package runner executes agent runs asynchronously against the LLM backend.
package runner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/config"
	"github.com/dealdesk/dealdesk/domain"
	"github.com/dealdesk/dealdesk/hub"
	"github.com/dealdesk/dealdesk/llm"
	"github.com/dealdesk/dealdesk/policy"
	"github.com/dealdesk/dealdesk/store"
)

// ChatCompleter is the LLM dependency of the runner.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error)
}

// Service creates runs and drives them to a terminal status.
type Service struct {
	store  store.Store
	llm    ChatCompleter
	hub    *hub.Hub
	policy *policy.Engine
	config *config.Config
}

// New creates a new runner service. hub may be nil when push is disabled.
func New(st store.Store, llmClient ChatCompleter, h *hub.Hub, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:  st,
		llm:    llmClient,
		hub:    h,
		policy: policyEngine,
		config: cfg,
	}
}

// storeWriteTimeout bounds the status and message writes around a run's
// execution. Terminal writes get their own context: the run's LLM context
// may already be expired when the failure it caused is being recorded.
const storeWriteTimeout = 5 * time.Second

// RequestError marks a submission failure the caller can correct
// (validation or policy), as opposed to an internal failure.
type RequestError struct {
	msg string
}

func (e *RequestError) Error() string { return e.msg }

func rejectf(format string, args ...interface{}) error {
	return &RequestError{msg: fmt.Sprintf(format, args...)}
}

// systemPrompts holds the instruction prefix for each agent type.
var systemPrompts = map[domain.AgentType]string{
	domain.AgentTypeDealAnalyst: "You are a deal analyst for a family office. Analyze the deal question and answer concisely with concrete figures where possible.",
	domain.AgentTypeDocReviewer: "You are a document reviewer. Summarize and flag notable terms in the referenced deal document.",
	domain.AgentTypeRiskAdvisor: "You are a risk management advisor. Identify risks relevant to the question and suggest mitigations.",
}

// StartRun validates a submission, creates the run and its user message,
// and schedules asynchronous execution.
func (s *Service) StartRun(ctx context.Context, dealID string, req domain.StartRunRequest) (*domain.StartRunResponse, error) {
	if dealID == "" {
		return nil, rejectf("deal_id is required")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, rejectf("query is required")
	}
	if !domain.IsKnownAgentType(req.AgentType) {
		return nil, rejectf("unknown agent type %q", req.AgentType)
	}

	if s.policy != nil {
		decision, err := s.policy.Evaluate(ctx, map[string]interface{}{
			"agent_type": string(req.AgentType),
			"query":      query,
			"file_id":    req.FileID,
		})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if decision != "allow" {
			return nil, rejectf("submission blocked by policy")
		}
	}

	if _, err := s.store.GetOrCreateDeal(ctx, dealID, dealID); err != nil {
		return nil, fmt.Errorf("failed to get/create deal: %w", err)
	}

	runID := "run_" + uuid.New().String()[:8]
	now := time.Now()
	run := &domain.Run{
		RunID:     runID,
		DealID:    dealID,
		AgentType: req.AgentType,
		Status:    domain.RunStatusPending,
		Input: domain.RunInput{
			Query:  query,
			FileID: req.FileID,
		},
		CreatedAt: now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	userMsg := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		DealID:    dealID,
		RunID:     runID,
		Role:      "user",
		Content:   query,
		CreatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		log.Printf("ERROR: failed to save user message: %v", err)
		// Continue anyway - message storage failure shouldn't block the run
	}

	s.pushRunStatus(dealID, runID, domain.RunStatusPending)

	go s.execute(run)

	return &domain.StartRunResponse{
		RunID:  runID,
		Status: domain.RunStatusPending,
	}, nil
}

// execute drives one run from pending to a terminal status. The LLM
// context is scoped to the LLM call alone; store writes run under their
// own short contexts so a timed-out backend cannot keep the run from
// reaching a terminal status.
func (s *Service) execute(run *domain.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	err := s.store.UpdateRunStatus(ctx, run.RunID, domain.RunStatusRunning)
	cancel()
	if err != nil {
		log.Printf("ERROR: failed to update run status: %v", err)
	}
	s.pushRunStatus(run.DealID, run.RunID, domain.RunStatusRunning)

	messages := []llm.ChatMessage{
		{Role: "system", Content: systemPrompts[run.AgentType]},
	}
	query := run.Input.Query
	if run.Input.FileID != "" {
		query = fmt.Sprintf("%s\n\n[attached file: %s]", query, run.Input.FileID)
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: query})

	llmCtx, cancelLLM := context.WithTimeout(context.Background(), s.config.LLMTimeout)
	resp, err := s.llm.CreateChatCompletion(llmCtx, &llm.ChatCompletionRequest{
		Model:    s.config.LLMModel,
		Messages: messages,
	})
	cancelLLM()
	if err != nil {
		s.fail(run, err)
		return
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		s.fail(run, fmt.Errorf("LLM returned no choices"))
		return
	}

	content := resp.Choices[0].Message.Content
	assistantMsg := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		DealID:    run.DealID,
		RunID:     run.RunID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now(),
	}

	writeCtx, cancelWrite := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancelWrite()

	if err := s.store.CreateMessage(writeCtx, assistantMsg); err != nil {
		log.Printf("ERROR: failed to save assistant message: %v", err)
	}

	output := &domain.RunOutput{Content: content}
	if resp.Usage != nil {
		output.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if err := s.store.CompleteRun(writeCtx, run.RunID, domain.RunStatusCompleted, output, ""); err != nil {
		log.Printf("ERROR: failed to complete run: %v", err)
	}

	s.pushMessage(run.DealID, run.RunID, assistantMsg)
	s.pushRunStatus(run.DealID, run.RunID, domain.RunStatusCompleted)
}

// fail records a run failure under a fresh context; the context the run
// executed with is typically the reason it is failing.
func (s *Service) fail(run *domain.Run, cause error) {
	log.Printf("ERROR: run %s failed: %v", run.RunID, cause)

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	if err := s.store.CompleteRun(ctx, run.RunID, domain.RunStatusFailed, nil, cause.Error()); err != nil {
		log.Printf("ERROR: failed to mark run failed: %v", err)
	}
	s.pushRunStatus(run.DealID, run.RunID, domain.RunStatusFailed)
}

func (s *Service) pushRunStatus(dealID, runID string, status domain.RunStatus) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastJSON(dealID, domain.RunEvent{
		Type:   "run_status",
		Ts:     time.Now().UnixMilli(),
		DealID: dealID,
		RunID:  runID,
		Status: status,
	}); err != nil {
		log.Printf("WARN: failed to push run_status event: %v", err)
	}
}

func (s *Service) pushMessage(dealID, runID string, msg *domain.Message) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastJSON(dealID, domain.RunEvent{
		Type:    "message",
		Ts:      time.Now().UnixMilli(),
		DealID:  dealID,
		RunID:   runID,
		Message: msg,
	}); err != nil {
		log.Printf("WARN: failed to push message event: %v", err)
	}
}
