package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// CampaignFile is a campaign definition loaded from a YAML/TOML/JSON file,
// for creating campaigns from the command line instead of the API.
type CampaignFile struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Subject  string `yaml:"subject" toml:"subject" json:"subject"`
	Body     string `yaml:"body" toml:"body" json:"body"`
	FromName string `yaml:"from_name" toml:"from_name" json:"from_name"`
	DomainID string `yaml:"domain_id" toml:"domain_id" json:"domain_id"`
	CSVKey   string `yaml:"csv_key" toml:"csv_key" json:"csv_key"`

	FollowUpSubject   string `yaml:"follow_up_subject" toml:"follow_up_subject" json:"follow_up_subject"`
	FollowUpBody      string `yaml:"follow_up_body" toml:"follow_up_body" json:"follow_up_body"`
	FollowUpDelayDays int    `yaml:"follow_up_delay_days" toml:"follow_up_delay_days" json:"follow_up_delay_days"`

	// ScheduleAt is RFC 3339; empty means send on trigger.
	ScheduleAt string `yaml:"schedule_at" toml:"schedule_at" json:"schedule_at"`
}

// LoadCampaignFile parses a campaign definition, choosing the parser by file
// extension.
func LoadCampaignFile(path string) (*CampaignFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign file: %w", err)
	}

	var cf CampaignFile
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported campaign file extension %q", ext)
	}

	if err := cf.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return &cf, nil
}

// Validate checks the campaign definition for errors.
func (cf *CampaignFile) Validate() error {
	if cf.Name == "" {
		return errors.New("name is required")
	}
	if cf.Subject == "" {
		return errors.New("subject is required")
	}
	if cf.ScheduleAt != "" {
		if _, err := time.Parse(time.RFC3339, cf.ScheduleAt); err != nil {
			return fmt.Errorf("invalid schedule_at %q: %w", cf.ScheduleAt, err)
		}
	}
	return nil
}

// Schedule returns the parsed schedule time, or nil when unset.
func (cf *CampaignFile) Schedule() (*time.Time, error) {
	if cf.ScheduleAt == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, cf.ScheduleAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
