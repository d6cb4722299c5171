package store

import (
	"fmt"
	"time"

	"outreach/internal/domain"
)

// PrepareJobs validates a batch and stamps it as freshly pending.
// Any invalid job rejects the whole batch.
func PrepareJobs(jobs []domain.QueueMessage, now time.Time) ([]domain.QueueMessage, error) {
	out := make([]domain.QueueMessage, len(jobs))
	seen := make(map[string]struct{}, len(jobs))
	for i, j := range jobs {
		if err := j.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		if _, dup := seen[j.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate job id %s in batch", domain.ErrValidation, j.ID)
		}
		seen[j.ID] = struct{}{}

		j.Status = domain.StatusPending
		j.SentAt = nil
		j.Error = ""
		j.RetryCount = 0
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		out[i] = j
	}
	return out, nil
}
