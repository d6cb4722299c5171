package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"outreach/internal/domain"
)

var ErrNoRoute = errors.New("no sender configured for channel")

// LogSender delivers by logging. Used for local runs and demos.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, m domain.QueueMessage) (Outcome, error) {
	slog.Info("log sender delivered",
		"message_id", m.ID,
		"campaign_id", m.CampaignID,
		"channel", m.Channel,
		"recipient_id", m.RecipientID,
		"subject", m.Subject,
		"content_len", len(m.Content),
	)
	return Delivered, nil
}

// ChannelRouter picks a sender per channel, falling back to Default.
type ChannelRouter struct {
	Routes  map[domain.Channel]Sender
	Default Sender
}

func (r ChannelRouter) Send(ctx context.Context, m domain.QueueMessage) (Outcome, error) {
	if s, ok := r.Routes[m.Channel]; ok {
		return s.Send(ctx, m)
	}
	if r.Default == nil {
		return Delivered, ErrNoRoute
	}
	return r.Default.Send(ctx, m)
}
