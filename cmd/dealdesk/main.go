// Command dealdesk is an interactive terminal chat client for the deal
// agent platform.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dealdesk/dealdesk/domain"
	"github.com/dealdesk/dealdesk/runclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	dealID := flag.String("deal", "demo-deal", "deal identifier")
	agent := flag.String("agent", string(domain.AgentTypeDealAnalyst), "agent type")
	interval := flag.Duration("interval", runclient.DefaultPollInterval, "poll interval")
	flag.Parse()

	agentType := domain.AgentType(*agent)
	if !domain.IsKnownAgentType(agentType) {
		fmt.Fprintf(os.Stderr, "unknown agent type %q; known: %v\n", *agent, domain.KnownAgentTypes)
		os.Exit(1)
	}

	done := make(chan domain.Run, 1)
	svc := runclient.NewHTTPClient(*server)
	ctrl := runclient.NewController(svc, *dealID, agentType, *interval, func(run domain.Run) {
		done <- run
	})
	defer ctrl.Close()

	ctx := context.Background()
	ctrl.LoadHistory(ctx)
	render(ctrl.Messages(), 0)

	fmt.Printf("Connected to %s (deal %s, agent %s)\n", *server, *dealID, agentType)
	fmt.Println("Commands: /agent <type>, /copy, /export <file>, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case strings.HasPrefix(line, "/agent"):
			name, ok := commandArg(line, "/agent")
			if !ok || name == "" {
				fmt.Println("usage: /agent <type>")
				continue
			}
			next := domain.AgentType(name)
			if !domain.IsKnownAgentType(next) {
				fmt.Printf("unknown agent type %q; known: %v\n", next, domain.KnownAgentTypes)
				continue
			}
			ctrl.SetAgentType(ctx, next)
			fmt.Printf("Switched to %s\n", next)
			render(ctrl.Messages(), 0)

		case line == "/copy":
			text, ok := ctrl.AssistantTranscript()
			if !ok {
				fmt.Println("nothing to copy yet")
				continue
			}
			fmt.Println(text)

		case strings.HasPrefix(line, "/export"):
			path, ok := commandArg(line, "/export")
			if !ok || path == "" {
				fmt.Println("usage: /export <file>")
				continue
			}
			text, ok := ctrl.ExportTranscript()
			if !ok {
				fmt.Println("nothing to export yet")
				continue
			}
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				fmt.Printf("export failed: %v\n", err)
				continue
			}
			fmt.Printf("exported to %s\n", path)

		default:
			shown := len(ctrl.Messages())
			if !ctrl.Submit(ctx, line, "") {
				fmt.Println("submission rejected")
				continue
			}
			if errText := ctrl.ErrorText(); errText != "" {
				fmt.Printf("error: %s\n", errText)
				continue
			}
			waitForRun(ctrl, done)
			render(ctrl.Messages(), shown)
		}
	}
}

// commandArg extracts the argument of a slash command. ok is false when
// the line is not an invocation of cmd at all (so the caller can treat
// near-misses like "/exportx" as usage errors rather than chat input).
func commandArg(line, cmd string) (arg string, ok bool) {
	if line == cmd {
		return "", true
	}
	if strings.HasPrefix(line, cmd+" ") {
		return strings.TrimSpace(strings.TrimPrefix(line, cmd+" ")), true
	}
	return "", false
}

// waitForRun blocks until the active run reaches a terminal status,
// showing the live status while polling continues.
func waitForRun(ctrl *runclient.Controller, done <-chan domain.Run) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case run := <-done:
			if run.Status == domain.RunStatusFailed {
				fmt.Printf("error: %s\n", ctrl.ErrorText())
			}
			return
		case <-ticker.C:
			fmt.Printf("... %s\n", ctrl.Status())
		}
	}
}

// render prints messages newer than the already shown count.
func render(messages []domain.Message, shown int) {
	for _, msg := range messages[min(shown, len(messages)):] {
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Role, msg.Content)
	}
}
