package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage defines the interface for all database operations.
type Storage interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]*Campaign, error)
	UpdateCampaign(ctx context.Context, c *Campaign) error
	UpdateCampaignStatus(ctx context.Context, id string, status CampaignStatus) error
	SetCampaignMetrics(ctx context.Context, id string, m Metrics) error
	IncrementCampaignMetric(ctx context.Context, id, metric string) error
	DeleteCampaign(ctx context.Context, id string) error

	// Sending domains
	CreateDomain(ctx context.Context, d *Domain) error
	GetDomain(ctx context.Context, id string) (*Domain, error)
	ListDomains(ctx context.Context) ([]*Domain, error)
	DeleteDomain(ctx context.Context, id string) error

	// Replies
	CreateReply(ctx context.Context, r *Reply) error
	ListReplies(ctx context.Context, campaignID string) ([]*Reply, error)

	// Unsubscribes
	CreateUnsubscribe(ctx context.Context, u *Unsubscribe) error
	GetUnsubscribeByTokenHash(ctx context.Context, hash string) (*Unsubscribe, error)
	ListUnsubscribes(ctx context.Context, campaignID string) ([]*Unsubscribe, error)

	// Durable campaign log snapshots
	SaveCampaignLogs(ctx context.Context, rec *CampaignLogRecord) error
	GetCampaignLogs(ctx context.Context, campaignID string) (*CampaignLogRecord, error)

	// Lifecycle
	Close() error
}

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft      CampaignStatus = "draft"
	CampaignStatusScheduled  CampaignStatus = "scheduled"
	CampaignStatusProcessing CampaignStatus = "processing"
	CampaignStatusSent       CampaignStatus = "sent"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// Metric field names accepted by IncrementCampaignMetric.
const (
	MetricSent         = "sent"
	MetricDelivered    = "delivered"
	MetricOpened       = "opened"
	MetricReplied      = "replied"
	MetricBounced      = "bounced"
	MetricUnsubscribed = "unsubscribed"
)

// Metrics holds per-campaign delivery counters, reported by the workflow
// runner or bumped by reply/unsubscribe capture.
type Metrics struct {
	Sent         int
	Delivered    int
	Opened       int
	Replied      int
	Bounced      int
	Unsubscribed int
}

// Campaign represents one email outreach job.
type Campaign struct {
	ID       string
	Name     string
	Subject  string
	Body     string
	FromName string
	DomainID string

	// Recipient list: object-store key of the uploaded CSV plus the
	// recipient count derived from it at upload time.
	CSVKey         string
	RecipientCount int

	// Optional follow-up email.
	FollowUpSubject   string
	FollowUpBody      string
	FollowUpDelayDays int

	// ScheduleAt is nil for immediate sends.
	ScheduleAt *time.Time

	Status    CampaignStatus
	Metrics   Metrics
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain represents a sending domain.
type Domain struct {
	ID        string
	Name      string // e.g. "mail.example.com"
	FromEmail string // e.g. "outreach@mail.example.com"
	Verified  bool
	CreatedAt time.Time
}

// Reply is an inbound reply captured by the workflow runner.
type Reply struct {
	ID         string
	CampaignID string
	FromEmail  string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Unsubscribe records one recipient opting out of a campaign.
// The signed link token is stored hashed, never in the clear.
type Unsubscribe struct {
	ID         string
	CampaignID string
	Email      string
	TokenHash  string
	CreatedAt  time.Time
}

// CampaignLogRecord is the durable snapshot of a campaign's log session,
// written when a completion signal arrives and queryable after the
// in-memory session is cleared.
type CampaignLogRecord struct {
	CampaignID        string
	Logs              []string
	IsComplete        bool
	CompletionMessage string
	LastUpdated       time.Time
}

// NewID returns a new 24-character hex campaign identifier.
func NewID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// ValidID reports whether id has the store's native identifier format:
// exactly 24 lowercase hex characters.
func ValidID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
