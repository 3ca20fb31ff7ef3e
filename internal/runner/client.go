// Package runner triggers the external workflow runner that performs the
// actual sending. The runner reports progress back over the log webhook.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TriggerRequest is the payload delivered to the runner webhook when a
// campaign is launched.
type TriggerRequest struct {
	CampaignID        string `json:"campaignId"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	FromName          string `json:"fromName"`
	FromEmail         string `json:"fromEmail"`
	RecipientsURL     string `json:"recipientsUrl"`
	ScheduleAt        string `json:"scheduleAt,omitempty"`
	FollowUpSubject   string `json:"followUpSubject,omitempty"`
	FollowUpBody      string `json:"followUpBody,omitempty"`
	FollowUpDelayDays int    `json:"followUpDelayDays,omitempty"`
	LogWebhookURL     string `json:"logWebhookUrl"`
	StatusCallbackURL string `json:"statusCallbackUrl"`
	UnsubscribeBase   string `json:"unsubscribeBase"`
}

// Client posts trigger requests to a configured runner webhook.
type Client struct {
	webhookURL string
	secret     string
	httpClient *http.Client
}

func NewClient(webhookURL, secret string) *Client {
	return &Client{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether a webhook URL is set. Campaigns can still be
// drafted and edited without a runner, they just cannot be sent.
func (c *Client) Configured() bool {
	return c.webhookURL != ""
}

// Trigger launches a campaign on the runner. Any non-2xx response is an
// error, with the response body included for the operator.
func (c *Client) Trigger(ctx context.Context, tr TriggerRequest) error {
	if !c.Configured() {
		return fmt.Errorf("runner webhook URL not configured")
	}

	body, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
