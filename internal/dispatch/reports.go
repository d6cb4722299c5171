package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"outreach/internal/domain"
	"outreach/internal/observability"
	"outreach/internal/util"
)

// ReportStore is the subset of the queue store a delivery report touches.
type ReportStore interface {
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id, reason string, now time.Time) error
}

// ApplyReport records a delivery report against its job. Reports for jobs
// that are gone or no longer sending are acknowledged and dropped; any other
// error is returned so the report is redelivered.
func ApplyReport(ctx context.Context, st ReportStore, r domain.DeliveryReport) error {
	if r.MessageID == "" {
		observability.Reports.WithLabelValues("invalid").Inc()
		return nil
	}
	at := r.OccurredAt.UTC()
	if r.OccurredAt.IsZero() {
		at = util.NowUTC()
	}

	var err error
	if r.Delivered {
		err = st.MarkSent(ctx, r.MessageID, at)
	} else {
		reason := r.Error
		if reason == "" {
			reason = "undelivered"
		}
		err = st.MarkFailed(ctx, r.MessageID, reason, at)
	}

	switch {
	case err == nil:
		observability.Reports.WithLabelValues(reportLabel(r)).Inc()
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		observability.Reports.WithLabelValues("stale").Inc()
		slog.Info("delivery report dropped", "message_id", r.MessageID, "delivered", r.Delivered, "err", err)
		return nil
	default:
		observability.Reports.WithLabelValues("error").Inc()
		return err
	}
}

func reportLabel(r domain.DeliveryReport) string {
	if r.Delivered {
		return "delivered"
	}
	return "failed"
}
