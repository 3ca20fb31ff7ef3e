package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCampaignCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	schedule := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	c := &Campaign{
		ID:                NewID(),
		Name:              "Spring launch",
		Subject:           "Hi {{firstName}}",
		Body:              "We built a thing.",
		FromName:          "Ada",
		DomainID:          NewID(),
		CSVKey:            "uploads/list.csv",
		RecipientCount:    420,
		FollowUpSubject:   "Re: Hi",
		FollowUpBody:      "Bumping this.",
		FollowUpDelayDays: 3,
		ScheduleAt:        &schedule,
		Status:            CampaignStatusDraft,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	got, err := store.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Name != c.Name || got.RecipientCount != 420 {
		t.Errorf("got %+v, want name/count to match", got)
	}
	if got.ScheduleAt == nil || !got.ScheduleAt.Equal(schedule) {
		t.Errorf("scheduleAt = %v, want %v", got.ScheduleAt, schedule)
	}
	if got.Status != CampaignStatusDraft {
		t.Errorf("status = %s, want draft", got.Status)
	}

	got.Name = "Spring launch v2"
	got.RecipientCount = 500
	if err := store.UpdateCampaign(ctx, got); err != nil {
		t.Fatalf("UpdateCampaign: %v", err)
	}
	again, _ := store.GetCampaign(ctx, c.ID)
	if again.Name != "Spring launch v2" || again.RecipientCount != 500 {
		t.Errorf("update not persisted: %+v", again)
	}

	if err := store.UpdateCampaignStatus(ctx, c.ID, CampaignStatusProcessing); err != nil {
		t.Fatalf("UpdateCampaignStatus: %v", err)
	}
	again, _ = store.GetCampaign(ctx, c.ID)
	if again.Status != CampaignStatusProcessing {
		t.Errorf("status = %s, want processing", again.Status)
	}

	list, err := store.ListCampaigns(ctx)
	if err != nil {
		t.Fatalf("ListCampaigns: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(campaigns) = %d, want 1", len(list))
	}

	if err := store.DeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCampaign: %v", err)
	}
	if _, err := store.GetCampaign(ctx, c.ID); err != ErrNotFound {
		t.Errorf("GetCampaign after delete = %v, want ErrNotFound", err)
	}
}

func TestCampaignNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetCampaign(context.Background(), NewID()); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := store.UpdateCampaignStatus(context.Background(), NewID(), CampaignStatusSent); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteCampaign(context.Background(), NewID()); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCampaignMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := &Campaign{ID: NewID(), Name: "m", Status: CampaignStatusProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	if err := store.SetCampaignMetrics(ctx, c.ID, Metrics{Sent: 100, Delivered: 97, Opened: 40, Bounced: 3}); err != nil {
		t.Fatalf("SetCampaignMetrics: %v", err)
	}
	if err := store.IncrementCampaignMetric(ctx, c.ID, MetricReplied); err != nil {
		t.Fatalf("IncrementCampaignMetric: %v", err)
	}
	if err := store.IncrementCampaignMetric(ctx, c.ID, MetricReplied); err != nil {
		t.Fatalf("IncrementCampaignMetric: %v", err)
	}

	got, _ := store.GetCampaign(ctx, c.ID)
	if got.Metrics.Sent != 100 || got.Metrics.Delivered != 97 || got.Metrics.Replied != 2 {
		t.Errorf("metrics = %+v", got.Metrics)
	}

	if err := store.IncrementCampaignMetric(ctx, c.ID, "nope"); err == nil {
		t.Error("unknown metric accepted")
	}
}

func TestDomainCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := &Domain{ID: NewID(), Name: "mail.example.com", FromEmail: "ada@mail.example.com", Verified: true, CreatedAt: time.Now()}
	if err := store.CreateDomain(ctx, d); err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}

	got, err := store.GetDomain(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDomain: %v", err)
	}
	if got.Name != d.Name || !got.Verified {
		t.Errorf("got %+v", got)
	}

	list, _ := store.ListDomains(ctx)
	if len(list) != 1 {
		t.Errorf("len(domains) = %d, want 1", len(list))
	}

	if err := store.DeleteDomain(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDomain: %v", err)
	}
	if _, err := store.GetDomain(ctx, d.ID); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRepliesAndUnsubscribes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	campaignID := NewID()
	r := &Reply{ID: "rep-1", CampaignID: campaignID, FromEmail: "bob@example.com", Subject: "Re: Hi", Body: "interested", ReceivedAt: time.Now()}
	if err := store.CreateReply(ctx, r); err != nil {
		t.Fatalf("CreateReply: %v", err)
	}
	_ = store.CreateReply(ctx, &Reply{ID: "rep-2", CampaignID: NewID(), FromEmail: "eve@example.com", ReceivedAt: time.Now()})

	scoped, err := store.ListReplies(ctx, campaignID)
	if err != nil {
		t.Fatalf("ListReplies: %v", err)
	}
	if len(scoped) != 1 || scoped[0].FromEmail != "bob@example.com" {
		t.Errorf("scoped replies = %+v", scoped)
	}
	all, _ := store.ListReplies(ctx, "")
	if len(all) != 2 {
		t.Errorf("len(all replies) = %d, want 2", len(all))
	}

	u := &Unsubscribe{ID: "u-1", CampaignID: campaignID, Email: "bob@example.com", TokenHash: "abc123", CreatedAt: time.Now()}
	if err := store.CreateUnsubscribe(ctx, u); err != nil {
		t.Fatalf("CreateUnsubscribe: %v", err)
	}

	got, err := store.GetUnsubscribeByTokenHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetUnsubscribeByTokenHash: %v", err)
	}
	if got.Email != "bob@example.com" {
		t.Errorf("email = %s", got.Email)
	}
	if _, err := store.GetUnsubscribeByTokenHash(ctx, "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// token_hash is unique: a duplicate record is rejected.
	dup := &Unsubscribe{ID: "u-2", CampaignID: campaignID, Email: "bob@example.com", TokenHash: "abc123", CreatedAt: time.Now()}
	if err := store.CreateUnsubscribe(ctx, dup); err == nil {
		t.Error("duplicate token hash accepted")
	}
}

func TestCampaignLogsSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := NewID()
	if _, err := store.GetCampaignLogs(ctx, id); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	rec := &CampaignLogRecord{
		CampaignID:        id,
		Logs:              []string{"sending batch 1", "sending batch 2", "campaign complete"},
		IsComplete:        true,
		CompletionMessage: "campaign complete",
		LastUpdated:       time.Now(),
	}
	if err := store.SaveCampaignLogs(ctx, rec); err != nil {
		t.Fatalf("SaveCampaignLogs: %v", err)
	}

	got, err := store.GetCampaignLogs(ctx, id)
	if err != nil {
		t.Fatalf("GetCampaignLogs: %v", err)
	}
	if len(got.Logs) != 3 || got.Logs[2] != "campaign complete" {
		t.Errorf("logs = %v", got.Logs)
	}
	if !got.IsComplete || got.CompletionMessage != "campaign complete" {
		t.Errorf("got %+v", got)
	}

	// Save is an upsert.
	rec.Logs = append(rec.Logs, "post-completion note")
	if err := store.SaveCampaignLogs(ctx, rec); err != nil {
		t.Fatalf("SaveCampaignLogs upsert: %v", err)
	}
	got, _ = store.GetCampaignLogs(ctx, id)
	if len(got.Logs) != 4 {
		t.Errorf("len(logs) = %d, want 4", len(got.Logs))
	}
}

func TestValidID(t *testing.T) {
	if !ValidID("65a1b2c3d4e5f6a7b8c9d0e1") {
		t.Error("valid 24-hex id rejected")
	}
	if !ValidID(NewID()) {
		t.Error("NewID output rejected")
	}
	for _, id := range []string{
		"",
		"short",
		"65a1b2c3d4e5f6a7b8c9d0e",    // 23 chars
		"65a1b2c3d4e5f6a7b8c9d0e12",  // 25 chars
		"65A1B2C3D4E5F6A7B8C9D0E1",   // uppercase
		"65a1b2c3d4e5f6a7b8c9d0ez",   // non-hex
		"../../etc/passwd/aaaaaaaaa", // path shape
	} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}
