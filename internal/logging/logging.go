// Package logging configures the process-wide slog logger and the job
// attributes every pipeline log line carries.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"outreach/internal/domain"
)

// Init installs the default logger for one pipeline process. format is
// "json" (default) or "text"; level is debug, info (default), warn or error.
func Init(service, format, level string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))
	lvl, lvlOK := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, using json", "format", format)
	}
	if !lvlOK {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Job returns l annotated with the ids that locate a queue job.
// Ad-hoc jobs carry no campaign_id.
func Job(l *slog.Logger, m domain.QueueMessage) *slog.Logger {
	args := []any{"message_id", m.ID, "tenant_id", m.TenantID, "channel", m.Channel}
	if m.CampaignID != "" {
		args = append(args, "campaign_id", m.CampaignID)
	}
	if m.RetryCount > 0 {
		args = append(args, "retry", m.RetryCount)
	}
	return l.With(args...)
}
