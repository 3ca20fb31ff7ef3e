// Package cli implements the mailflow command-line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// PollInterval is the cadence of live log polling.
	PollInterval = 2 * time.Second

	// PollTimeout caps how long the client polls a campaign that never
	// signals completion. Hitting it is a degraded outcome, not an error.
	PollTimeout = 5 * time.Minute
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	ServerURL  string
	CampaignID string

	// History reads the durable snapshot instead of the live session.
	History bool

	// Follow streams over WebSocket instead of polling.
	Follow bool

	// Interval and Timeout override the polling defaults; zero means default.
	Interval time.Duration
	Timeout  time.Duration
}

type logsResponse struct {
	Logs              []string `json:"logs"`
	LastUpdated       *string  `json:"lastUpdated"`
	Count             int      `json:"count"`
	IsComplete        bool     `json:"isComplete"`
	CompletionMessage *string  `json:"completionMessage"`
}

// Logs tails campaign logs: a history read, a WebSocket stream, or a polling
// loop that stops on completion or on the watchdog timeout.
func Logs(ctx context.Context, opts LogsOptions, out io.Writer) error {
	if opts.History {
		return fetchHistory(ctx, opts, out)
	}
	if opts.Follow {
		return streamLogs(ctx, opts, out)
	}
	return pollLogs(ctx, opts, out)
}

func fetchLogs(ctx context.Context, serverURL, campaignID, suffix string) (*logsResponse, error) {
	apiURL := fmt.Sprintf("%s/campaigns/%s/logs%s", serverURL, campaignID, suffix)

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var lr logsResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &lr, nil
}

func fetchHistory(ctx context.Context, opts LogsOptions, out io.Writer) error {
	lr, err := fetchLogs(ctx, opts.ServerURL, opts.CampaignID, "/history")
	if err != nil {
		return err
	}

	for _, line := range lr.Logs {
		fmt.Fprintln(out, line)
	}
	if lr.IsComplete && lr.CompletionMessage != nil {
		fmt.Fprintf(out, "--- complete: %s\n", *lr.CompletionMessage)
	}
	return nil
}

// pollLogs repeats live reads until the campaign completes or the watchdog
// fires. Lines already printed are not repeated; a transient fetch error is
// reported and polling continues.
func pollLogs(ctx context.Context, opts LogsOptions, out io.Writer) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = PollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = PollTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	printed := 0
	poll := func() (done bool) {
		lr, err := fetchLogs(ctx, opts.ServerURL, opts.CampaignID, "")
		if err != nil {
			fmt.Fprintf(out, "--- poll error: %v\n", err)
			return false
		}

		// The session is capped server-side, so the buffer can shrink from
		// one poll to the next once eviction starts.
		if len(lr.Logs) < printed {
			printed = len(lr.Logs)
		}
		for _, line := range lr.Logs[printed:] {
			fmt.Fprintln(out, line)
		}
		printed = len(lr.Logs)

		if lr.IsComplete {
			if lr.CompletionMessage != nil {
				fmt.Fprintf(out, "--- complete: %s\n", *lr.CompletionMessage)
			}
			return true
		}
		return false
	}

	if poll() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			fmt.Fprintln(out, "--- timed out waiting for completion")
			return nil
		case <-ticker.C:
			if poll() {
				return nil
			}
		}
	}
}

// streamLogs follows the live session over WebSocket.
func streamLogs(ctx context.Context, opts LogsOptions, out io.Writer) error {
	wsURL := strings.Replace(opts.ServerURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = fmt.Sprintf("%s/ws/logs/%s", wsURL, opts.CampaignID)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to log stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Line    string `json:"line"`
			Message string `json:"message"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}

		switch msg.Type {
		case "log":
			fmt.Fprintln(out, msg.Line)
		case "complete":
			if msg.Message != "" {
				fmt.Fprintf(out, "--- complete: %s\n", msg.Message)
			}
			return nil
		}
	}
}
