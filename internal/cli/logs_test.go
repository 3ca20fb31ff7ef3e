package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func pollServer(t *testing.T, responses []logsResponse) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(responses[n])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestPollStopsOnCompletion(t *testing.T) {
	msg := "all done"
	srv, calls := pollServer(t, []logsResponse{
		{Logs: []string{"a"}, Count: 1},
		{Logs: []string{"a", "b"}, Count: 2},
		{Logs: []string{"a", "b", "all done"}, Count: 3, IsComplete: true, CompletionMessage: &msg},
	})

	var out strings.Builder
	err := Logs(context.Background(), LogsOptions{
		ServerURL:  srv.URL,
		CampaignID: "507f1f77bcf86cd799439011",
		Interval:   5 * time.Millisecond,
		Timeout:    time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}

	want := "a\nb\nall done\n--- complete: all done\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want polling to stop at completion", calls.Load())
	}
}

func TestPollNoDuplicateLines(t *testing.T) {
	srv, _ := pollServer(t, []logsResponse{
		{Logs: []string{"a", "b"}, Count: 2},
		{Logs: []string{"a", "b"}, Count: 2},
		{Logs: []string{"a", "b", "c"}, Count: 3, IsComplete: true},
	})

	var out strings.Builder
	err := Logs(context.Background(), LogsOptions{
		ServerURL:  srv.URL,
		CampaignID: "507f1f77bcf86cd799439011",
		Interval:   5 * time.Millisecond,
		Timeout:    time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}

	if got := out.String(); got != "a\nb\nc\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPollWatchdogTimeout(t *testing.T) {
	srv, _ := pollServer(t, []logsResponse{
		{Logs: []string{"stuck"}, Count: 1},
	})

	var out strings.Builder
	err := Logs(context.Background(), LogsOptions{
		ServerURL:  srv.URL,
		CampaignID: "507f1f77bcf86cd799439011",
		Interval:   5 * time.Millisecond,
		Timeout:    30 * time.Millisecond,
	}, &out)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}

	if !strings.Contains(out.String(), "stuck") {
		t.Errorf("accumulated lines should be kept: %q", out.String())
	}
	if !strings.Contains(out.String(), "timed out") {
		t.Errorf("watchdog note missing: %q", out.String())
	}
}

func TestPollContinuesPastFetchErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(logsResponse{Logs: []string{"ok"}, Count: 1, IsComplete: true})
	}))
	defer srv.Close()

	var out strings.Builder
	err := Logs(context.Background(), LogsOptions{
		ServerURL:  srv.URL,
		CampaignID: "507f1f77bcf86cd799439011",
		Interval:   5 * time.Millisecond,
		Timeout:    time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}

	if !strings.Contains(out.String(), "poll error") || !strings.Contains(out.String(), "ok") {
		t.Errorf("output = %q", out.String())
	}
}

func TestHistoryFetch(t *testing.T) {
	msg := "sent 40 emails"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/logs/history") {
			t.Errorf("path = %q, want history endpoint", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(logsResponse{
			Logs: []string{"x", "sent 40 emails"}, Count: 2,
			IsComplete: true, CompletionMessage: &msg,
		})
	}))
	defer srv.Close()

	var out strings.Builder
	err := Logs(context.Background(), LogsOptions{
		ServerURL:  srv.URL,
		CampaignID: "507f1f77bcf86cd799439011",
		History:    true,
	}, &out)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}

	if !strings.Contains(out.String(), "sent 40 emails") {
		t.Errorf("output = %q", out.String())
	}
}
