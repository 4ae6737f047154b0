package runclient

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk/dealdesk/domain"
)

const (
	// DefaultPollInterval is the fixed interval between run status checks.
	DefaultPollInterval = 2 * time.Second

	// historyRuns is how many recent runs the cold-start load lists.
	historyRuns = 10
	// historyRunMessages is how many of those runs contribute messages.
	historyRunMessages = 5

	// fallbackErrorText is shown when a failed run carries no error text.
	fallbackErrorText = "agent run failed"

	localMessagePrefix = "local_"
)

// Controller owns the session state of one chat view: the ordered message
// log, the active run, and the polling loop that drives a run to its
// terminal status.
//
// Polling has no client-side timeout: it continues until the server
// reports a terminal status. Exactly one status request is in flight at a
// time. A poll result that arrives after the session moved on (agent type
// switched, controller closed, newer submission) is discarded; every loop
// carries a generation token that is compared against current state
// before any update is applied.
type Controller struct {
	svc        Service
	dealID     string
	interval   time.Duration
	onComplete func(domain.Run)

	mu         sync.Mutex
	agentType  domain.AgentType
	messages   []domain.Message
	seen       map[string]bool
	runID      string
	status     domain.RunStatus
	loading    bool
	errorText  string
	gen        int
	cancelPoll context.CancelFunc
}

// NewController creates a controller for one deal and agent type.
// interval <= 0 selects DefaultPollInterval; onComplete may be nil and is
// invoked exactly once per run that reaches a terminal status.
func NewController(svc Service, dealID string, agentType domain.AgentType, interval time.Duration, onComplete func(domain.Run)) *Controller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Controller{
		svc:        svc,
		dealID:     dealID,
		interval:   interval,
		onComplete: onComplete,
		agentType:  agentType,
		seen:       make(map[string]bool),
	}
}

// Submit accepts non-empty trimmed user text, appends an optimistic user
// message, and starts a run. It reports false without any side effect when
// the text is empty/whitespace or a submission is already in flight.
//
// A failed start call clears loading and records the error text; the
// optimistic message is kept so the user can see what they sent and retry.
func (c *Controller) Submit(ctx context.Context, text, fileID string) bool {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" || c.loading {
		c.mu.Unlock()
		return false
	}

	// A new submission supersedes any previous run still being watched.
	c.stopPollLocked()
	c.gen++
	gen := c.gen

	optimistic := domain.Message{
		MessageID: localMessagePrefix + uuid.New().String()[:8],
		DealID:    c.dealID,
		Role:      "user",
		Content:   text,
		CreatedAt: time.Now(),
	}
	c.messages = append(c.messages, optimistic)
	c.seen[optimistic.MessageID] = true
	c.loading = true
	c.errorText = ""
	c.runID = ""
	c.status = ""
	agentType := c.agentType
	c.mu.Unlock()

	resp, err := c.svc.StartRun(ctx, c.dealID, domain.StartRunRequest{
		AgentType: agentType,
		Query:     text,
		FileID:    fileID,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// Session moved on while the call was in flight.
		return true
	}
	if err != nil {
		c.loading = false
		c.errorText = err.Error()
		return true
	}

	// Tag the optimistic message with the run so the merge on completion
	// can replace it with the server's copy.
	for i := range c.messages {
		if c.messages[i].MessageID == optimistic.MessageID {
			c.messages[i].RunID = resp.RunID
			break
		}
	}

	c.runID = resp.RunID
	c.status = resp.Status

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancelPoll = cancel
	go c.pollLoop(pollCtx, resp.RunID, gen)
	return true
}

// pollLoop checks the run status on a fixed interval until the run is
// terminal or the loop is cancelled. The loop body is sequential, so at
// most one status request is outstanding at any moment.
func (c *Controller) pollLoop(ctx context.Context, runID string, gen int) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := c.svc.GetRun(ctx, runID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("WARN: poll for run %s failed: %v", runID, err)
				continue
			}
			if !c.applyPoll(ctx, run, gen) {
				return
			}
		}
	}
}

// applyPoll folds one poll result into session state. It returns false
// when polling should stop: the run reached a terminal status or the
// result is stale.
func (c *Controller) applyPoll(ctx context.Context, run *domain.Run, gen int) bool {
	c.mu.Lock()
	if gen != c.gen || c.runID != run.RunID {
		c.mu.Unlock()
		return false
	}
	c.status = run.Status
	if !run.Status.IsTerminal() {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	// Fetch the run's messages outside the lock; the merge below
	// re-checks the generation before touching state.
	var fetched []domain.Message
	if run.Status == domain.RunStatusCompleted {
		resp, err := c.svc.GetRunMessages(ctx, run.RunID)
		if err != nil {
			log.Printf("ERROR: failed to fetch messages for run %s: %v", run.RunID, err)
		} else {
			fetched = resp.Messages
		}
	}

	c.mu.Lock()
	if gen != c.gen || c.runID != run.RunID {
		c.mu.Unlock()
		return false
	}
	if len(fetched) > 0 {
		c.dropOptimisticLocked(run.RunID)
		c.mergeLocked(fetched)
	}
	c.loading = false
	if run.Status == domain.RunStatusFailed {
		if run.ErrorMessage != "" {
			c.errorText = run.ErrorMessage
		} else {
			c.errorText = fallbackErrorText
		}
	}
	c.cancelPoll = nil
	cb := c.onComplete
	c.mu.Unlock()

	if cb != nil {
		cb(*run)
	}
	return false
}

// dropOptimisticLocked removes the client-generated placeholder for a run
// once the server's own copy of the user message is about to merge in.
func (c *Controller) dropOptimisticLocked(runID string) {
	kept := c.messages[:0]
	for _, msg := range c.messages {
		if strings.HasPrefix(msg.MessageID, localMessagePrefix) && msg.RunID == runID {
			delete(c.seen, msg.MessageID)
			continue
		}
		kept = append(kept, msg)
	}
	c.messages = kept
}

// mergeLocked adds messages whose identifier is not already present and
// re-sorts the log by ascending creation time. De-duplication is by
// identity, never by content.
func (c *Controller) mergeLocked(fetched []domain.Message) {
	for _, msg := range fetched {
		if c.seen[msg.MessageID] {
			continue
		}
		c.seen[msg.MessageID] = true
		c.messages = append(c.messages, msg)
	}
	sort.SliceStable(c.messages, func(i, j int) bool {
		if c.messages[i].CreatedAt.Equal(c.messages[j].CreatedAt) {
			return c.messages[i].MessageID < c.messages[j].MessageID
		}
		return c.messages[i].CreatedAt.Before(c.messages[j].CreatedAt)
	})
}

// LoadHistory populates session state with the recent conversation for
// the current deal and agent type: the messages of up to
// historyRunMessages of the historyRuns most recent runs, in ascending
// creation order. Failures are logged and swallowed; an empty history is
// a normal outcome.
func (c *Controller) LoadHistory(ctx context.Context) {
	c.mu.Lock()
	gen := c.gen
	agentType := c.agentType
	c.mu.Unlock()

	resp, err := c.svc.ListRuns(ctx, c.dealID, agentType, 1, historyRuns)
	if err != nil {
		log.Printf("WARN: failed to load run history: %v", err)
		return
	}

	runs := resp.Runs
	if len(runs) > historyRunMessages {
		runs = runs[:historyRunMessages]
	}

	var history []domain.Message
	for _, run := range runs {
		msgs, err := c.svc.GetRunMessages(ctx, run.RunID)
		if err != nil {
			log.Printf("WARN: failed to load messages for run %s: %v", run.RunID, err)
			continue
		}
		history = append(history, msgs.Messages...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.mergeLocked(history)
}

// SetAgentType switches the active agent type. All session state is
// cleared, any outstanding poll is cancelled, and history is reloaded for
// the new agent type. A no-op when the type is unchanged.
func (c *Controller) SetAgentType(ctx context.Context, agentType domain.AgentType) {
	c.mu.Lock()
	if c.agentType == agentType {
		c.mu.Unlock()
		return
	}
	c.stopPollLocked()
	c.gen++
	c.agentType = agentType
	c.messages = nil
	c.seen = make(map[string]bool)
	c.runID = ""
	c.status = ""
	c.loading = false
	c.errorText = ""
	c.mu.Unlock()

	c.LoadHistory(ctx)
}

// Close cancels any outstanding poll. No state update is applied after
// Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPollLocked()
	c.gen++
}

func (c *Controller) stopPollLocked() {
	if c.cancelPoll != nil {
		c.cancelPoll()
		c.cancelPoll = nil
	}
}

// Messages returns a copy of the current message log.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// RunID returns the identifier of the active run, or "" when idle.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Status returns the last observed status of the active run.
func (c *Controller) Status() domain.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Loading reports whether a submission is in flight or a run is still
// being watched.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// ErrorText returns the current inline error text, or "" when none.
func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorText
}

// AgentType returns the active agent type.
func (c *Controller) AgentType() domain.AgentType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentType
}
