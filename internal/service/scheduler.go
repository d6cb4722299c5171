package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outreach/internal/channel"
	"outreach/internal/domain"
	"outreach/internal/observability"
	"outreach/internal/personalize"
	"outreach/internal/store"
	"outreach/internal/util"
)

const previewLimit = 5

type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	SetCampaignStatus(ctx context.Context, in store.CampaignStatusUpdate) error
	CommitSchedule(ctx context.Context, in store.ScheduleCommit) error
}

type RecipientSource interface {
	ResolveRecipients(ctx context.Context, tenantID string, f domain.AudienceFilter, limit int) ([]domain.Recipient, error)
}

type Queue interface {
	Enqueue(ctx context.Context, jobs []domain.QueueMessage, now time.Time) error
	CancelByCampaign(ctx context.Context, campaignID string, now time.Time) (int64, error)
	RetrySweep(ctx context.Context, maxRetries int, now time.Time) (domain.RetryResult, error)
	PurgeOld(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
	FailStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)
	GetMessage(ctx context.Context, id string) (domain.QueueMessage, error)
	CountByStatus(ctx context.Context, campaignID string) (store.StatusCounts, error)
}

type CampaignService struct {
	Campaigns  CampaignStore
	Recipients RecipientSource
	Queue      Queue

	// MaxRetries caps RetrySweep; <= 0 retries forever.
	MaxRetries int

	Now   func() time.Time
	IDGen func() string
}

type ScheduleOptions struct {
	ScheduledAt *time.Time
	TestMode    bool
}

type ScheduleResult struct {
	TotalQueued     int                   `json:"totalQueued"`
	TestRecipient   string                `json:"testRecipient,omitempty"`
	Status          domain.CampaignStatus `json:"status"`
	InvalidContacts int                   `json:"invalidContacts"`
}

type PreviewItem struct {
	Recipient   domain.Recipient `json:"recipient"`
	Content     string           `json:"personalizedContent"`
	Subject     string           `json:"personalizedSubject,omitempty"`
	Deliverable bool             `json:"deliverable"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return util.NowUTC()
}

func (s *CampaignService) newID() string {
	if s.IDGen != nil {
		return s.IDGen()
	}
	return util.NewMessageID()
}

// Schedule turns a campaign into per-recipient pending jobs. Nothing is
// written unless the campaign loads, validates and resolves a non-empty
// audience. In test mode a single job is enqueued and the campaign is left
// as it was.
func (s *CampaignService) Schedule(ctx context.Context, campaignID string, opts ScheduleOptions) (ScheduleResult, error) {
	mode := "full"
	if opts.TestMode {
		mode = "test"
	}
	res, err := s.schedule(ctx, campaignID, opts)
	observability.Schedules.WithLabelValues(mode, resultLabel(err)).Inc()
	return res, err
}

func (s *CampaignService) schedule(ctx context.Context, campaignID string, opts ScheduleOptions) (ScheduleResult, error) {
	// 1) load + validate
	c, err := s.Campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return ScheduleResult{}, err
	}
	if err := c.Validate(); err != nil {
		return ScheduleResult{}, err
	}
	if !opts.TestMode && !c.Status.Schedulable() {
		if c.Status == domain.CampaignArchived {
			return ScheduleResult{}, fmt.Errorf("campaign %s is archived: %w", c.ID, domain.ErrInvalidTransition)
		}
		return ScheduleResult{}, fmt.Errorf("campaign %s is %s: %w", c.ID, c.Status, domain.ErrAlreadyScheduled)
	}

	// 2) resolve
	limit := 0
	if opts.TestMode {
		limit = 1
	}
	recipients, err := s.Recipients.ResolveRecipients(ctx, c.TenantID, c.Filter, limit)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("resolve audience: %w", err)
	}

	// 3) empty audience aborts before any write
	if len(recipients) == 0 {
		return ScheduleResult{}, fmt.Errorf("campaign %s: %w", c.ID, domain.ErrEmptyAudience)
	}

	// 4) render
	now := s.now()
	at := now
	if opts.ScheduledAt != nil {
		at = opts.ScheduledAt.UTC()
	}
	jobs := s.buildJobs(c, recipients, at, now)
	if opts.TestMode {
		for i := range jobs {
			jobs[i].Metadata[domain.MetaTest] = "true"
		}
	}

	invalid := len(channel.Partition(recipients, c.Channel).Invalid)
	if invalid > 0 {
		observability.InvalidContacts.WithLabelValues(string(c.Channel)).Add(float64(invalid))
		slog.Warn("campaign has recipients without usable contact data",
			"campaign_id", c.ID,
			"channel", c.Channel,
			"invalid", invalid,
			"total", len(recipients),
		)
	}

	// 5) persist
	if opts.TestMode {
		if err := s.Queue.Enqueue(ctx, jobs, now); err != nil {
			return ScheduleResult{}, err
		}
		observability.JobsEnqueued.WithLabelValues(string(c.Channel)).Add(float64(len(jobs)))
		return ScheduleResult{
			TotalQueued:     len(jobs),
			TestRecipient:   recipients[0].DisplayName(),
			Status:          c.Status,
			InvalidContacts: invalid,
		}, nil
	}

	newStatus := domain.CampaignSending
	var scheduledAt *time.Time
	if at.After(now) {
		newStatus = domain.CampaignScheduled
		scheduledAt = &at
	}
	err = s.Campaigns.CommitSchedule(ctx, store.ScheduleCommit{
		CampaignID:      c.ID,
		ExpectStatus:    c.Status,
		NewStatus:       newStatus,
		TotalRecipients: len(recipients),
		ScheduledAt:     scheduledAt,
		Jobs:            jobs,
		Now:             now,
	})
	if err != nil {
		return ScheduleResult{}, err
	}
	observability.JobsEnqueued.WithLabelValues(string(c.Channel)).Add(float64(len(jobs)))

	slog.Info("campaign scheduled",
		"campaign_id", c.ID,
		"tenant_id", c.TenantID,
		"queued", len(jobs),
		"status", newStatus,
	)
	return ScheduleResult{TotalQueued: len(jobs), Status: newStatus, InvalidContacts: invalid}, nil
}

func (s *CampaignService) buildJobs(c domain.Campaign, recipients []domain.Recipient, at, now time.Time) []domain.QueueMessage {
	jobs := make([]domain.QueueMessage, 0, len(recipients))
	for _, r := range recipients {
		meta := r.Snapshot()
		meta[domain.MetaPhone] = util.NormalizePhone(r.Phone)
		m := domain.QueueMessage{
			ID:          s.newID(),
			CampaignID:  c.ID,
			RecipientID: r.ID,
			TenantID:    c.TenantID,
			Channel:     c.Channel,
			Content:     personalize.Render(c.Content, r),
			ScheduledAt: at,
			Status:      domain.StatusPending,
			Metadata:    meta,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if c.Subject != "" {
			m.Subject = personalize.Render(c.Subject, r)
		}
		jobs = append(jobs, m)
	}
	return jobs
}

// Preview renders the first few recipients without enqueueing anything.
func (s *CampaignService) Preview(ctx context.Context, campaignID string) ([]PreviewItem, error) {
	c, err := s.Campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := c.Filter.Validate(); err != nil {
		return nil, err
	}
	recipients, err := s.Recipients.ResolveRecipients(ctx, c.TenantID, c.Filter, previewLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	out := make([]PreviewItem, 0, len(recipients))
	for _, r := range recipients {
		item := PreviewItem{
			Recipient:   r,
			Content:     personalize.Render(c.Content, r),
			Deliverable: channel.Deliverable(c.Channel, r.Email, r.Phone),
		}
		if c.Subject != "" {
			item.Subject = personalize.Render(c.Subject, r)
		}
		out = append(out, item)
	}
	return out, nil
}

// Pause cancels every pending or sending job and archives the campaign.
func (s *CampaignService) Pause(ctx context.Context, campaignID string) (int64, error) {
	if _, err := s.Campaigns.GetCampaign(ctx, campaignID); err != nil {
		return 0, err
	}
	now := s.now()
	n, err := s.Queue.CancelByCampaign(ctx, campaignID, now)
	if err != nil {
		return 0, err
	}
	if err := s.Campaigns.SetCampaignStatus(ctx, store.CampaignStatusUpdate{
		CampaignID: campaignID,
		Status:     domain.CampaignArchived,
		Now:        now,
	}); err != nil {
		return n, err
	}
	slog.Info("campaign paused", "campaign_id", campaignID, "cancelled", n)
	return n, nil
}

// CancelCampaign cancels outstanding jobs without touching the campaign status.
func (s *CampaignService) CancelCampaign(ctx context.Context, campaignID string) (int64, error) {
	if _, err := s.Campaigns.GetCampaign(ctx, campaignID); err != nil {
		return 0, err
	}
	return s.Queue.CancelByCampaign(ctx, campaignID, s.now())
}

// Enqueue accepts ad-hoc jobs outside any campaign. Missing ids and
// scheduled_at are filled in; the returned slice carries the stored ids.
// Each job must carry the contact its channel sends to.
func (s *CampaignService) Enqueue(ctx context.Context, jobs []domain.QueueMessage) ([]domain.QueueMessage, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	now := s.now()
	out := make([]domain.QueueMessage, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			j.ID = s.newID()
		}
		if j.ScheduledAt.IsZero() {
			j.ScheduledAt = now
		}
		if !channel.Deliverable(j.Channel, j.Metadata[domain.MetaEmail], j.Metadata[domain.MetaPhone]) {
			return nil, fmt.Errorf("%w: job %d: %s needs metadata.%s", domain.ErrValidation, i, j.Channel, contactKey(j.Channel))
		}
		j.Status = domain.StatusPending
		j.CreatedAt = now
		j.UpdatedAt = now
		out[i] = j
	}
	if err := s.Queue.Enqueue(ctx, out, now); err != nil {
		return nil, err
	}
	for _, j := range out {
		observability.JobsEnqueued.WithLabelValues(string(j.Channel)).Inc()
	}
	return out, nil
}

func (s *CampaignService) GetMessage(ctx context.Context, id string) (domain.QueueMessage, error) {
	return s.Queue.GetMessage(ctx, id)
}

func (s *CampaignService) RetrySweep(ctx context.Context) (domain.RetryResult, error) {
	res, err := s.Queue.RetrySweep(ctx, s.MaxRetries, s.now())
	if err != nil {
		observability.Maintenance.WithLabelValues("retry_sweep", "error").Inc()
		return res, err
	}
	observability.Maintenance.WithLabelValues("retry_sweep", "requeued").Add(float64(res.Requeued))
	observability.Maintenance.WithLabelValues("retry_sweep", "exhausted").Add(float64(res.Exhausted))
	return res, nil
}

// PurgeOld deletes sent and cancelled jobs last touched more than
// retentionDays ago.
func (s *CampaignService) PurgeOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("%w: retentionDays must be at least 1", domain.ErrValidation)
	}
	n, err := s.Queue.PurgeOld(ctx, time.Duration(retentionDays)*24*time.Hour, s.now())
	if err != nil {
		observability.Maintenance.WithLabelValues("purge", "error").Inc()
		return 0, err
	}
	observability.Maintenance.WithLabelValues("purge", "deleted").Add(float64(n))
	return n, nil
}

// FailStale fails jobs claimed longer than olderThan ago so the retry sweep
// can pick them up again.
func (s *CampaignService) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: stale window must be positive", domain.ErrValidation)
	}
	n, err := s.Queue.FailStale(ctx, olderThan, s.now())
	if err != nil {
		observability.Maintenance.WithLabelValues("stale_sweep", "error").Inc()
		return 0, err
	}
	observability.Maintenance.WithLabelValues("stale_sweep", "failed").Add(float64(n))
	return n, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return errorKind(err)
}

func contactKey(ch domain.Channel) string {
	if ch == domain.ChannelEmail {
		return domain.MetaEmail
	}
	return domain.MetaPhone
}
