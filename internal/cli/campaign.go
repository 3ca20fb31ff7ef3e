package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mailflow/mailflow/internal/config"
)

// ImportOptions configures the campaign import command.
type ImportOptions struct {
	ServerURL string
	File      string

	// CSVPath optionally uploads a local recipient list and attaches it to
	// the campaign, overriding any csv_key in the file.
	CSVPath string
}

// ImportCampaign creates a campaign on the server from a local definition
// file, uploading the recipient list first when one is given.
func ImportCampaign(ctx context.Context, opts ImportOptions, out io.Writer) error {
	cf, err := config.LoadCampaignFile(opts.File)
	if err != nil {
		return err
	}

	csvKey := cf.CSVKey
	if opts.CSVPath != "" {
		key, count, err := uploadFile(ctx, opts.ServerURL, opts.CSVPath)
		if err != nil {
			return fmt.Errorf("upload recipient list: %w", err)
		}
		fmt.Fprintf(out, "uploaded %s: %d recipients (key %s)\n", filepath.Base(opts.CSVPath), count, key)
		csvKey = key
	}

	body, err := json.Marshal(map[string]any{
		"name":              cf.Name,
		"subject":           cf.Subject,
		"body":              cf.Body,
		"fromName":          cf.FromName,
		"domainId":          cf.DomainID,
		"csvKey":            csvKey,
		"followUpSubject":   cf.FollowUpSubject,
		"followUpBody":      cf.FollowUpBody,
		"followUpDelayDays": cf.FollowUpDelayDays,
		"scheduleAt":        cf.ScheduleAt,
	})
	if err != nil {
		return fmt.Errorf("encode campaign: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", opts.ServerURL+"/api/campaigns", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}

	var created struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		RecipientCount int    `json:"recipientCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Fprintf(out, "created campaign %s (%s), %d recipients\n", created.ID, created.Name, created.RecipientCount)
	return nil
}

func uploadFile(ctx context.Context, serverURL, path string) (key string, recipientCount int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", 0, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", 0, err
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/api/uploads", &buf)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}

	var uploaded struct {
		Key        string `json:"key"`
		Recipients int    `json:"recipients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}
	return uploaded.Key, uploaded.Recipients, nil
}
