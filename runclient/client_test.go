package runclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/domain"
)

func TestHTTPClientStartRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/deals/d1/runs" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req domain.StartRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.AgentType != domain.AgentTypeDealAnalyst || req.Query != "hello" {
			t.Fatalf("unexpected request body: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(domain.StartRunResponse{RunID: "run-1", Status: domain.RunStatusPending})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	resp, err := client.StartRun(context.Background(), "d1", domain.StartRunRequest{
		AgentType: domain.AgentTypeDealAnalyst,
		Query:     "hello",
	})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if resp.RunID != "run-1" || resp.Status != domain.RunStatusPending {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHTTPClientErrorTextIsVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "submission blocked by policy"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.StartRun(context.Background(), "d1", domain.StartRunRequest{
		AgentType: domain.AgentTypeDealAnalyst,
		Query:     "hello",
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Error() != "submission blocked by policy" {
		t.Fatalf("expected server error text verbatim, got %q", err.Error())
	}
}

func TestHTTPClientGetRunAndMessages(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/runs/run-1":
			json.NewEncoder(w).Encode(domain.Run{
				RunID: "run-1", DealID: "d1", AgentType: domain.AgentTypeDealAnalyst,
				Status: domain.RunStatusCompleted, CreatedAt: now,
			})
		case "/v1/runs/run-1/messages":
			json.NewEncoder(w).Encode(domain.MessagesResponse{
				Messages: []domain.Message{{MessageID: "m1", Role: "user", Content: "q", CreatedAt: now}},
				Total:    1,
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	run, err := client.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("unexpected run: %+v", run)
	}

	msgs, err := client.GetRunMessages(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRunMessages failed: %v", err)
	}
	if msgs.Total != 1 || len(msgs.Messages) != 1 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestHTTPClientListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/deals/d1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "10" || q.Get("agent_type") != "risk_advisor" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(domain.RunsResponse{Runs: []domain.Run{}, Total: 0, Page: 2, PageSize: 10})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	resp, err := client.ListRuns(context.Background(), "d1", domain.AgentTypeRiskAdvisor, 2, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if resp.Page != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
