package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreDealAndMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	deal, err := store.GetOrCreateDeal(ctx, "d1", "Project Meridian")
	if err != nil {
		t.Fatalf("GetOrCreateDeal failed: %v", err)
	}
	if deal.Name != "Project Meridian" {
		t.Fatalf("unexpected deal: %+v", deal)
	}

	// Second call returns the existing deal.
	again, err := store.GetOrCreateDeal(ctx, "d1", "other name")
	if err != nil {
		t.Fatalf("GetOrCreateDeal failed: %v", err)
	}
	if again.Name != "Project Meridian" {
		t.Fatalf("expected existing deal, got %+v", again)
	}

	base := time.Now()
	msgs := []*domain.Message{
		{MessageID: "m2", DealID: "d1", RunID: "r1", Role: "assistant", Content: "answer", CreatedAt: base.Add(time.Second)},
		{MessageID: "m1", DealID: "d1", RunID: "r1", Role: "user", Content: "question", CreatedAt: base},
	}
	for _, msg := range msgs {
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	got, err := store.GetRunMessages(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRunMessages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Fatalf("messages not in ascending creation order: %+v", got)
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetOrCreateDeal(ctx, "d1", "d1"); err != nil {
		t.Fatalf("GetOrCreateDeal failed: %v", err)
	}

	run := &domain.Run{
		RunID:     "r1",
		DealID:    "d1",
		AgentType: domain.AgentTypeDealAnalyst,
		Status:    domain.RunStatusPending,
		Input:     domain.RunInput{Query: "analyze", FileID: "f1"},
		CreatedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "r1", domain.RunStatusRunning); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	output := &domain.RunOutput{
		Content: "done",
		Usage:   &domain.Usage{TotalTokens: 42},
	}
	if err := store.CompleteRun(ctx, "r1", domain.RunStatusCompleted, output, ""); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Output == nil || got.Output.Content != "done" || got.Output.Usage.TotalTokens != 42 {
		t.Fatalf("unexpected output: %+v", got.Output)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
	if got.Input.Query != "analyze" || got.Input.FileID != "f1" {
		t.Fatalf("unexpected input: %+v", got.Input)
	}
}

func TestSQLiteStoreTerminalRunIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetOrCreateDeal(ctx, "d1", "d1"); err != nil {
		t.Fatalf("GetOrCreateDeal failed: %v", err)
	}

	run := &domain.Run{
		RunID:     "r1",
		DealID:    "d1",
		AgentType: domain.AgentTypeRiskAdvisor,
		Status:    domain.RunStatusRunning,
		Input:     domain.RunInput{Query: "q"},
		CreatedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := store.CompleteRun(ctx, "r1", domain.RunStatusFailed, nil, "boom"); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "r1", domain.RunStatusRunning); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if err := store.CompleteRun(ctx, "r1", domain.RunStatusCompleted, nil, ""); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusFailed || got.ErrorMessage != "boom" {
		t.Fatalf("terminal run changed: %+v", got)
	}
}

func TestSQLiteStoreCompleteRunRejectsNonTerminal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.CompleteRun(ctx, "r1", domain.RunStatusRunning, nil, ""); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetOrCreateDeal(ctx, "d1", "d1"); err != nil {
		t.Fatalf("GetOrCreateDeal failed: %v", err)
	}

	base := time.Now()
	for i := 0; i < 3; i++ {
		agentType := domain.AgentTypeDealAnalyst
		if i == 2 {
			agentType = domain.AgentTypeRiskAdvisor
		}
		run := &domain.Run{
			RunID:     "r" + string(rune('1'+i)),
			DealID:    "d1",
			AgentType: agentType,
			Status:    domain.RunStatusCompleted,
			Input:     domain.RunInput{Query: "q"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, total, err := store.ListRuns(ctx, "d1", "", 1, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 3 || len(runs) != 2 {
		t.Fatalf("expected total 3 page of 2, got total %d len %d", total, len(runs))
	}
	if runs[0].RunID != "r3" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	runs, total, err = store.ListRuns(ctx, "d1", domain.AgentTypeDealAnalyst, 1, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 2 || len(runs) != 2 {
		t.Fatalf("agent type filter: expected 2 runs, got total %d len %d", total, len(runs))
	}

	runs, total, err = store.ListRuns(ctx, "d1", "", 2, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 3 || len(runs) != 1 || runs[0].RunID != "r1" {
		t.Fatalf("second page: unexpected %d %+v", total, runs)
	}
}
