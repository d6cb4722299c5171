// Package memory is an in-process implementation of the campaign, recipient
// and queue stores. A single mutex serializes every operation, which makes
// ClaimEligible atomic across goroutines.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

type Store struct {
	mu         sync.Mutex
	campaigns  map[string]domain.Campaign
	recipients map[string][]domain.Recipient // by tenant
	messages   map[string]*domain.QueueMessage
}

func New() *Store {
	return &Store{
		campaigns:  map[string]domain.Campaign{},
		recipients: map[string][]domain.Recipient{},
		messages:   map[string]*domain.QueueMessage{},
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// PutCampaign inserts or replaces a campaign definition.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

// PutRecipients adds recipients to the tenant's pool.
func (s *Store) PutRecipients(tenantID string, rs ...domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		r.TenantID = tenantID
		s.recipients[tenantID] = append(s.recipients[tenantID], r)
	}
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (s *Store) SetCampaignStatus(ctx context.Context, in store.CampaignStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[in.CampaignID]
	if !ok {
		return fmt.Errorf("campaign %s: %w", in.CampaignID, domain.ErrNotFound)
	}
	c.Status = in.Status
	c.UpdatedAt = in.Now
	s.campaigns[in.CampaignID] = c
	return nil
}

func (s *Store) CommitSchedule(ctx context.Context, in store.ScheduleCommit) error {
	jobs, err := store.PrepareJobs(in.Jobs, in.Now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[in.CampaignID]
	if !ok {
		return fmt.Errorf("campaign %s: %w", in.CampaignID, domain.ErrNotFound)
	}
	if c.Status != in.ExpectStatus {
		return fmt.Errorf("campaign %s is %s: %w", c.ID, c.Status, domain.ErrAlreadyScheduled)
	}
	for _, m := range s.messages {
		if m.CampaignID != in.CampaignID || m.Metadata[domain.MetaTest] == "true" {
			continue
		}
		if m.Status == domain.StatusPending || m.Status == domain.StatusSending {
			return fmt.Errorf("campaign %s has active jobs: %w", c.ID, domain.ErrAlreadyScheduled)
		}
	}
	if err := s.insertLocked(jobs); err != nil {
		return err
	}

	c.Status = in.NewStatus
	c.TotalRecipients = in.TotalRecipients
	c.ScheduledAt = in.ScheduledAt
	c.UpdatedAt = in.Now
	s.campaigns[c.ID] = c
	return nil
}

func (s *Store) ResolveRecipients(ctx context.Context, tenantID string, f domain.AudienceFilter, limit int) ([]domain.Recipient, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Recipient
	for _, r := range s.recipients[tenantID] {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Enqueue(ctx context.Context, jobs []domain.QueueMessage, now time.Time) error {
	if len(jobs) == 0 {
		return nil
	}
	prepared, err := store.PrepareJobs(jobs, now)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(prepared)
}

func (s *Store) insertLocked(jobs []domain.QueueMessage) error {
	for _, j := range jobs {
		if _, exists := s.messages[j.ID]; exists {
			return fmt.Errorf("%w: job id %s already exists", domain.ErrValidation, j.ID)
		}
	}
	for i := range jobs {
		j := jobs[i]
		s.messages[j.ID] = &j
	}
	return nil
}

func (s *Store) ClaimEligible(ctx context.Context, limit int, now time.Time) ([]domain.QueueMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.QueueMessage
	for _, m := range s.messages {
		if m.Status == domain.StatusPending && !m.ScheduledAt.After(now) {
			eligible = append(eligible, m)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID < b.ID
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]domain.QueueMessage, 0, len(eligible))
	for _, m := range eligible {
		m.Status = domain.StatusSending
		m.UpdatedAt = now
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id string, now time.Time) error {
	return s.transition(id, domain.StatusSending, func(m *domain.QueueMessage) {
		m.Status = domain.StatusSent
		t := now
		m.SentAt = &t
		m.UpdatedAt = now
	})
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	return s.transition(id, domain.StatusSending, func(m *domain.QueueMessage) {
		m.Status = domain.StatusFailed
		m.Error = reason
		m.UpdatedAt = now
	})
}

// Release hands a claimed job back to pending without spending a retry.
func (s *Store) Release(ctx context.Context, id string, retryAt, now time.Time) error {
	return s.transition(id, domain.StatusSending, func(m *domain.QueueMessage) {
		m.Status = domain.StatusPending
		if retryAt.After(m.ScheduledAt) {
			m.ScheduledAt = retryAt
		}
		m.UpdatedAt = now
	})
}

func (s *Store) transition(id string, from domain.MessageStatus, apply func(*domain.QueueMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	if m.Status != from {
		return fmt.Errorf("message %s is %s: %w", id, m.Status, domain.ErrInvalidTransition)
	}
	apply(m)
	return nil
}

func (s *Store) CancelByCampaign(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.CampaignID != campaignID {
			continue
		}
		if m.Status == domain.StatusPending || m.Status == domain.StatusSending {
			m.Status = domain.StatusCancelled
			m.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) RetrySweep(ctx context.Context, maxRetries int, now time.Time) (domain.RetryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res domain.RetryResult
	for _, m := range s.messages {
		if m.Status != domain.StatusFailed {
			continue
		}
		if maxRetries > 0 && m.RetryCount >= maxRetries {
			m.Status = domain.StatusFailedPermanent
			m.UpdatedAt = now
			res.Exhausted++
			continue
		}
		m.Status = domain.StatusPending
		m.RetryCount++
		m.UpdatedAt = now
		res.Requeued++
	}
	return res, nil
}

func (s *Store) PurgeOld(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if (m.Status == domain.StatusSent || m.Status == domain.StatusCancelled) && m.UpdatedAt.Before(cutoff) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) FailStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.Status == domain.StatusSending && m.UpdatedAt.Before(cutoff) {
			m.Status = domain.StatusFailed
			m.Error = domain.ReasonSendingTimeout
			m.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.QueueMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.QueueMessage{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return cloneMessage(m), nil
}

func (s *Store) CountByStatus(ctx context.Context, campaignID string) (store.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := store.StatusCounts{}
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			out[m.Status]++
		}
	}
	return out, nil
}

func cloneMessage(m *domain.QueueMessage) domain.QueueMessage {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.SentAt != nil {
		t := *m.SentAt
		c.SentAt = &t
	}
	return c
}
