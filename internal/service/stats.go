package service

import (
	"context"
	"errors"

	"outreach/internal/domain"
	"outreach/internal/store"
)

// Stats reports per-status job counts for a campaign. Total is the sum of
// the per-status counts, so the counts always add up.
func (s *CampaignService) Stats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	if _, err := s.Campaigns.GetCampaign(ctx, campaignID); err != nil {
		return domain.CampaignStats{}, err
	}
	counts, err := s.Queue.CountByStatus(ctx, campaignID)
	if err != nil {
		return domain.CampaignStats{}, err
	}
	return buildStats(campaignID, counts), nil
}

func buildStats(campaignID string, c store.StatusCounts) domain.CampaignStats {
	st := domain.CampaignStats{
		CampaignID:      campaignID,
		Pending:         c[domain.StatusPending],
		Sending:         c[domain.StatusSending],
		Sent:            c[domain.StatusSent],
		Failed:          c[domain.StatusFailed],
		FailedPermanent: c[domain.StatusFailedPermanent],
		Cancelled:       c[domain.StatusCancelled],
	}
	st.Total = st.Pending + st.Sending + st.Sent + st.Failed + st.FailedPermanent + st.Cancelled
	if st.Total > 0 {
		st.Progress = float64(st.Sent) / float64(st.Total)
	}
	st.IsComplete = st.Sent+st.Failed+st.FailedPermanent+st.Cancelled == st.Total
	return st
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrEmptyAudience):
		return "empty_audience"
	case errors.Is(err, domain.ErrAlreadyScheduled):
		return "already_scheduled"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}
