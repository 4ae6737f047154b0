package runclient

import (
	"strings"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/domain"
)

func seedController(t *testing.T, messages []domain.Message) *Controller {
	t.Helper()
	ctrl := NewController(&fakeService{}, "d1", domain.AgentTypeDealAnalyst, testInterval, nil)
	t.Cleanup(ctrl.Close)
	ctrl.mu.Lock()
	for _, msg := range messages {
		ctrl.messages = append(ctrl.messages, msg)
		ctrl.seen[msg.MessageID] = true
	}
	ctrl.mu.Unlock()
	return ctrl
}

func TestAssistantTranscript(t *testing.T) {
	base := time.Now()
	ctrl := seedController(t, []domain.Message{
		{MessageID: "m1", Role: "user", Content: "q1", CreatedAt: base},
		{MessageID: "m2", Role: "assistant", Content: "a1", CreatedAt: base.Add(time.Second)},
		{MessageID: "m3", Role: "user", Content: "q2", CreatedAt: base.Add(2 * time.Second)},
		{MessageID: "m4", Role: "assistant", Content: "a2", CreatedAt: base.Add(3 * time.Second)},
	})

	text, ok := ctrl.AssistantTranscript()
	if !ok {
		t.Fatalf("expected a transcript")
	}
	if text != "a1"+transcriptSeparator+"a2" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestAssistantTranscriptEmptyWithoutAssistant(t *testing.T) {
	ctrl := seedController(t, []domain.Message{
		{MessageID: "m1", Role: "user", Content: "q1", CreatedAt: time.Now()},
	})

	if _, ok := ctrl.AssistantTranscript(); ok {
		t.Fatalf("expected no transcript without an assistant message")
	}
	if _, ok := ctrl.ExportTranscript(); ok {
		t.Fatalf("expected no export without an assistant message")
	}
}

func TestExportTranscript(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ctrl := seedController(t, []domain.Message{
		{MessageID: "m1", Role: "user", Content: "q1", CreatedAt: base},
		{MessageID: "m2", Role: "assistant", Content: "a1", CreatedAt: base.Add(time.Minute)},
	})

	text, ok := ctrl.ExportTranscript()
	if !ok {
		t.Fatalf("expected an export")
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), text)
	}
	if lines[0] != "[2026-03-01 09:30:00] user: q1" {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if lines[1] != "[2026-03-01 09:31:00] assistant: a1" {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}
