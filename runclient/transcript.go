package runclient

import (
	"fmt"
	"strings"
)

// transcriptSeparator sits between assistant answers in the copy output.
const transcriptSeparator = "\n\n---\n\n"

// AssistantTranscript concatenates all assistant answers in order, joined
// by a visible separator. ok is false when no assistant message exists
// yet, in which case copy is a no-op.
func (c *Controller) AssistantTranscript() (text string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var parts []string
	for _, msg := range c.messages {
		if msg.Role == "assistant" {
			parts = append(parts, msg.Content)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, transcriptSeparator), true
}

// ExportTranscript renders the whole conversation with role and timestamp
// prefixes, suitable for saving as a plain-text file. ok is false when no
// assistant message exists yet.
func (c *Controller) ExportTranscript() (text string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hasAssistant := false
	var b strings.Builder
	for _, msg := range c.messages {
		if msg.Role == "assistant" {
			hasAssistant = true
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Role, msg.Content)
	}
	if !hasAssistant {
		return "", false
	}
	return b.String(), true
}
