package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*CampaignService, *memory.Store) {
	t.Helper()
	mem := memory.New()
	seq := 0
	svc := &CampaignService{
		Campaigns:  mem,
		Recipients: mem,
		Queue:      mem,
		MaxRetries: 3,
		Now:        func() time.Time { return fixedNow },
		IDGen: func() string {
			seq++
			return fmt.Sprintf("msg_%04d", seq)
		},
	}
	return svc, mem
}

func seedLeads(mem *memory.Store, tenant, status string, n int) {
	for i := 0; i < n; i++ {
		mem.PutRecipients(tenant, domain.Recipient{
			ID:          fmt.Sprintf("%s-%s-%03d", tenant, status, i),
			Name:        fmt.Sprintf("Lead %d", i),
			Email:       fmt.Sprintf("lead%d@acme.io", i),
			CompanyName: "Acme",
			Status:      status,
		})
	}
}

func draftCampaign(id string, f domain.AudienceFilter) domain.Campaign {
	return domain.Campaign{
		ID:       id,
		TenantID: "t1",
		Channel:  domain.ChannelEmail,
		Content:  "Hola {{nombre}}, de {{empresa}}",
		Subject:  "Oferta para {{empresa}}",
		Filter:   f,
		Status:   domain.CampaignDraft,
	}
}

func TestScheduleProspectosScenario(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 37)
	seedLeads(mem, "t1", "Cliente", 12)
	seedLeads(mem, "t2", "Prospecto", 5)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{Status: domain.StringSet{"Prospecto"}}))

	res, err := svc.Schedule(ctx, "c1", ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if res.TotalQueued != 37 {
		t.Fatalf("queued %d, want 37", res.TotalQueued)
	}

	c, _ := mem.GetCampaign(ctx, "c1")
	if c.Status != domain.CampaignSending || c.TotalRecipients != 37 {
		t.Fatalf("campaign = %+v", c)
	}

	st, err := svc.Stats(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 37 || st.Pending != 37 || st.IsComplete || st.Progress != 0 {
		t.Fatalf("stats = %+v", st)
	}

	m, err := mem.GetMessage(ctx, "msg_0001")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(m.Content, "Hola Lead ") || !strings.HasSuffix(m.Content, ", de Acme") {
		t.Fatalf("content not personalized: %q", m.Content)
	}
	if m.Subject != "Oferta para Acme" {
		t.Fatalf("subject = %q", m.Subject)
	}
	if m.Metadata[domain.MetaEmail] == "" || m.Metadata[domain.MetaName] == "" {
		t.Fatalf("metadata snapshot missing: %v", m.Metadata)
	}
	if !m.ScheduledAt.Equal(fixedNow) {
		t.Fatalf("scheduled_at = %v", m.ScheduledAt)
	}
}

func TestScheduleTestModeEnqueuesOne(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 50)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{Status: domain.StringSet{"Prospecto"}}))

	res, err := svc.Schedule(ctx, "c1", ScheduleOptions{TestMode: true})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if res.TotalQueued != 1 || res.TestRecipient != "Lead 0" {
		t.Fatalf("res = %+v", res)
	}
	st, _ := svc.Stats(ctx, "c1")
	if st.Total != 1 {
		t.Fatalf("test mode enqueued %d jobs", st.Total)
	}
	c, _ := mem.GetCampaign(ctx, "c1")
	if c.Status != domain.CampaignDraft {
		t.Fatalf("test mode changed campaign status to %s", c.Status)
	}

	full, err := svc.Schedule(ctx, "c1", ScheduleOptions{})
	if err != nil {
		t.Fatalf("pending test send should not block the real batch: %v", err)
	}
	if full.TotalQueued != 50 {
		t.Fatalf("full run queued %d", full.TotalQueued)
	}
}

func TestScheduleFutureSetsScheduled(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 3)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{}))

	at := fixedNow.Add(2 * time.Hour)
	res, err := svc.Schedule(ctx, "c1", ScheduleOptions{ScheduledAt: &at})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.CampaignScheduled {
		t.Fatalf("status = %s", res.Status)
	}
	c, _ := mem.GetCampaign(ctx, "c1")
	if c.Status != domain.CampaignScheduled || c.ScheduledAt == nil || !c.ScheduledAt.Equal(at) {
		t.Fatalf("campaign = %+v", c)
	}

	claimed, _ := mem.ClaimEligible(ctx, 10, fixedNow)
	if len(claimed) != 0 {
		t.Fatalf("future jobs were claimable now: %d", len(claimed))
	}
	claimed, _ = mem.ClaimEligible(ctx, 10, at)
	if len(claimed) != 3 {
		t.Fatalf("claimed %d at scheduled time", len(claimed))
	}
}

func TestScheduleErrorsAbortBeforeWrites(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Cliente", 4)

	if _, err := svc.Schedule(ctx, "missing", ScheduleOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mem.PutCampaign(draftCampaign("empty", domain.AudienceFilter{Status: domain.StringSet{"Prospecto"}}))
	if _, err := svc.Schedule(ctx, "empty", ScheduleOptions{}); !errors.Is(err, domain.ErrEmptyAudience) {
		t.Fatalf("expected empty audience, got %v", err)
	}
	if _, err := svc.Schedule(ctx, "empty", ScheduleOptions{TestMode: true}); !errors.Is(err, domain.ErrEmptyAudience) {
		t.Fatalf("expected empty audience in test mode, got %v", err)
	}
	c, _ := mem.GetCampaign(ctx, "empty")
	if c.Status != domain.CampaignDraft || c.TotalRecipients != 0 {
		t.Fatalf("failed schedule mutated campaign: %+v", c)
	}

	mem.PutCampaign(draftCampaign("badtags", domain.AudienceFilter{Tags: []string{"vip"}}))
	if _, err := svc.Schedule(ctx, "badtags", ScheduleOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	st, _ := svc.Stats(ctx, "empty")
	if st.Total != 0 {
		t.Fatalf("jobs created on failure: %+v", st)
	}
}

func TestScheduleTwiceIsRejected(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 10)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{}))

	if _, err := svc.Schedule(ctx, "c1", ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Schedule(ctx, "c1", ScheduleOptions{}); !errors.Is(err, domain.ErrAlreadyScheduled) {
		t.Fatalf("expected already scheduled, got %v", err)
	}
	st, _ := svc.Stats(ctx, "c1")
	if st.Total != 10 {
		t.Fatalf("double schedule created %d jobs", st.Total)
	}
}

func TestScheduleCountsInvalidContactsButEnqueuesAll(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	mem.PutRecipients("t1",
		domain.Recipient{ID: "a", Name: "A", Phone: "+1"},
		domain.Recipient{ID: "b", Name: "B"},
	)
	c := draftCampaign("c1", domain.AudienceFilter{})
	c.Channel = domain.ChannelSMS
	mem.PutCampaign(c)

	res, err := svc.Schedule(ctx, "c1", ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalQueued != 2 || res.InvalidContacts != 1 {
		t.Fatalf("res = %+v", res)
	}
}

func TestPreview(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 8)
	mem.PutRecipients("t1", domain.Recipient{ID: "t1-Prospecto-000a", Status: "Prospecto"})
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{Status: domain.StringSet{"Prospecto"}}))

	items, err := svc.Preview(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Fatalf("preview returned %d items", len(items))
	}
	if items[0].Content != "Hola Lead 0, de Acme" || !items[0].Deliverable {
		t.Fatalf("first item = %+v", items[0])
	}
	nameless := items[1]
	if nameless.Recipient.ID != "t1-Prospecto-000a" {
		t.Fatalf("unexpected order: %s", nameless.Recipient.ID)
	}
	if nameless.Deliverable || !strings.Contains(nameless.Content, "valued customer") {
		t.Fatalf("nameless item = %+v", nameless)
	}

	st, _ := svc.Stats(ctx, "c1")
	if st.Total != 0 {
		t.Fatalf("preview enqueued jobs")
	}
}

func TestPauseCancelsOutstandingJobs(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 6)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{}))
	if _, err := svc.Schedule(ctx, "c1", ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}

	claimed, _ := mem.ClaimEligible(ctx, 3, fixedNow)
	_ = mem.MarkSent(ctx, claimed[0].ID, fixedNow)
	_ = mem.MarkFailed(ctx, claimed[1].ID, "bounce", fixedNow)

	n, err := svc.Pause(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("cancelled %d, want 4", n)
	}
	st, _ := svc.Stats(ctx, "c1")
	if st.Pending != 0 || st.Sending != 0 {
		t.Fatalf("stats after pause = %+v", st)
	}
	if st.Sent != 1 || st.Failed != 1 || st.Cancelled != 4 || !st.IsComplete {
		t.Fatalf("stats after pause = %+v", st)
	}
	c, _ := mem.GetCampaign(ctx, "c1")
	if c.Status != domain.CampaignArchived {
		t.Fatalf("status = %s", c.Status)
	}

	if _, err := svc.Schedule(ctx, "c1", ScheduleOptions{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("archived campaign rescheduled: %v", err)
	}
	if _, err := svc.Pause(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelCampaignKeepsStatus(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 2)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{}))
	_, _ = svc.Schedule(ctx, "c1", ScheduleOptions{})

	n, err := svc.CancelCampaign(ctx, "c1")
	if err != nil || n != 2 {
		t.Fatalf("cancel: %v n=%d", err, n)
	}
	c, _ := mem.GetCampaign(ctx, "c1")
	if c.Status != domain.CampaignSending {
		t.Fatalf("status = %s", c.Status)
	}
}

func TestRetrySweepFiveOfFifteen(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	seedLeads(mem, "t1", "Prospecto", 15)
	mem.PutCampaign(draftCampaign("c1", domain.AudienceFilter{}))
	if _, err := svc.Schedule(ctx, "c1", ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}

	claimed, _ := mem.ClaimEligible(ctx, 10, fixedNow)
	for i, m := range claimed {
		switch {
		case i < 5:
			_ = mem.MarkFailed(ctx, m.ID, "boom", fixedNow)
		case i < 8:
			_ = mem.MarkSent(ctx, m.ID, fixedNow)
		}
	}
	before, _ := svc.Stats(ctx, "c1")
	if before.Failed != 5 || before.Pending != 5 || before.Sending != 2 || before.Sent != 3 {
		t.Fatalf("setup stats = %+v", before)
	}

	res, err := svc.RetrySweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Requeued != 5 {
		t.Fatalf("requeued %d", res.Requeued)
	}
	after, _ := svc.Stats(ctx, "c1")
	if after.Failed != 0 || after.Pending != 10 || after.Sending != 2 || after.Sent != 3 || after.Total != 15 {
		t.Fatalf("after stats = %+v", after)
	}
}

func TestEnqueueAdHoc(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	out, err := svc.Enqueue(ctx, []domain.QueueMessage{{
		RecipientID: "r1", TenantID: "t1", Channel: domain.ChannelTelegram, Content: "ping",
		Metadata: map[string]string{domain.MetaPhone: "+5215550001"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID == "" || !out[0].ScheduledAt.Equal(fixedNow) {
		t.Fatalf("out = %+v", out)
	}
	m, err := svc.GetMessage(ctx, out[0].ID)
	if err != nil || m.Status != domain.StatusPending || m.CampaignID != "" {
		t.Fatalf("stored = %+v err=%v", m, err)
	}
	if !m.CreatedAt.Equal(fixedNow) || !m.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("stamped created=%v updated=%v, want service clock", m.CreatedAt, m.UpdatedAt)
	}

	_, err = svc.Enqueue(ctx, []domain.QueueMessage{
		{RecipientID: "r1", TenantID: "t1", Channel: domain.ChannelSMS, Content: "ok", Metadata: map[string]string{domain.MetaPhone: "+1"}},
		{RecipientID: "r2", TenantID: "t1", Channel: "pager", Content: "bad"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if out, err := svc.Enqueue(ctx, nil); err != nil || len(out) != 0 {
		t.Fatalf("empty enqueue = %v, %v", out, err)
	}
}

func TestEnqueueRequiresChannelContact(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		job  domain.QueueMessage
	}{
		{"email without address", domain.QueueMessage{Channel: domain.ChannelEmail}},
		{"email with phone only", domain.QueueMessage{Channel: domain.ChannelEmail, Metadata: map[string]string{domain.MetaPhone: "+1"}}},
		{"email without at sign", domain.QueueMessage{Channel: domain.ChannelEmail, Metadata: map[string]string{domain.MetaEmail: "ana"}}},
		{"whatsapp without phone", domain.QueueMessage{Channel: domain.ChannelWhatsApp, Metadata: map[string]string{domain.MetaEmail: "a@x.io"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := tc.job
			j.RecipientID, j.TenantID, j.Content = "r1", "t1", "hola"
			if _, err := svc.Enqueue(ctx, []domain.QueueMessage{j}); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPurgeOldValidatesWindow(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.PurgeOld(context.Background(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n, err := svc.PurgeOld(context.Background(), 30); err != nil || n != 0 {
		t.Fatalf("purge: %v n=%d", err, n)
	}
}

var (
	_ Queue           = (*memory.Store)(nil)
	_ CampaignStore   = (*memory.Store)(nil)
	_ RecipientSource = (*memory.Store)(nil)
)
