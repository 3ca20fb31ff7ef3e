package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTrigger(t *testing.T) {
	var got TriggerRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s3cret")
	err := c.Trigger(context.Background(), TriggerRequest{
		CampaignID:    "507f1f77bcf86cd799439011",
		Subject:       "Hello",
		LogWebhookURL: "http://app.example/campaigns/507f1f77bcf86cd799439011/logs",
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if got.CampaignID != "507f1f77bcf86cd799439011" || got.Subject != "Hello" {
		t.Errorf("unexpected payload: %+v", got)
	}
	if auth != "Bearer s3cret" {
		t.Errorf("auth header = %q", auth)
	}
}

func TestTriggerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow disabled", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.Trigger(context.Background(), TriggerRequest{CampaignID: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "workflow disabled") {
		t.Errorf("error = %v", err)
	}
}

func TestTriggerUnconfigured(t *testing.T) {
	c := NewClient("", "")
	if c.Configured() {
		t.Error("Configured() = true for empty URL")
	}
	if err := c.Trigger(context.Background(), TriggerRequest{}); err == nil {
		t.Error("expected error for unconfigured client")
	}
}
