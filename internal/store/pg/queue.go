package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"outreach/internal/domain"
	"outreach/internal/store"
)

const messageColumns = `id, COALESCE(campaign_id,''), recipient_id, tenant_id, channel, content, COALESCE(subject,''),
	scheduled_at, status, sent_at, COALESCE(error,''), metadata, retry_count, created_at, updated_at`

func scanMessage(row pgx.Row) (domain.QueueMessage, error) {
	var (
		m        domain.QueueMessage
		channel  string
		status   string
		metaJSON []byte
	)
	err := row.Scan(&m.ID, &m.CampaignID, &m.RecipientID, &m.TenantID, &channel, &m.Content, &m.Subject,
		&m.ScheduledAt, &status, &m.SentAt, &m.Error, &metaJSON, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.QueueMessage{}, err
	}
	m.Channel = domain.Channel(channel)
	m.Status = domain.MessageStatus(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return domain.QueueMessage{}, fmt.Errorf("message %s metadata: %w", m.ID, err)
		}
	}
	return m, nil
}

// Enqueue inserts the whole batch in one transaction.
func (s *Store) Enqueue(ctx context.Context, jobs []domain.QueueMessage, now time.Time) error {
	if len(jobs) == 0 {
		return nil
	}
	prepared, err := store.PrepareJobs(jobs, now)
	if err != nil {
		return err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertJobs(ctx, tx, prepared); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ClaimEligible moves up to limit due pending jobs to sending in a single
// statement. SKIP LOCKED lets concurrent dispatchers claim disjoint sets.
func (s *Store) ClaimEligible(ctx context.Context, limit int, now time.Time) ([]domain.QueueMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
		UPDATE queue_messages
		SET status='sending', updated_at=$2
		WHERE id IN (
		  SELECT id FROM queue_messages
		  WHERE status='pending' AND scheduled_at <= $2
		  ORDER BY scheduled_at, id
		  LIMIT $1
		  FOR UPDATE SKIP LOCKED
		)
		AND status='pending'
		RETURNING `+messageColumns, limit, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QueueMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE queue_messages SET status='sent', sent_at=$2, updated_at=$2
		WHERE id=$1 AND status='sending'
	`, id, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE queue_messages SET status='failed', error=$2, updated_at=$3
		WHERE id=$1 AND status='sending'
	`, id, nullIfEmpty(reason), now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// Release returns a claimed job to pending with retry_count untouched.
// scheduled_at only moves forward.
func (s *Store) Release(ctx context.Context, id string, retryAt, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE queue_messages
		SET status='pending', scheduled_at=GREATEST(scheduled_at, $2), updated_at=$3
		WHERE id=$1 AND status='sending'
	`, id, retryAt, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// transitionError explains why a conditional update touched no row.
func (s *Store) transitionError(ctx context.Context, id string) error {
	var status string
	err := s.DB.QueryRow(ctx, `SELECT status FROM queue_messages WHERE id=$1`, id).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("message %s is %s: %w", id, status, domain.ErrInvalidTransition)
}

func (s *Store) CancelByCampaign(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE queue_messages SET status='cancelled', updated_at=$2
		WHERE campaign_id=$1 AND status IN ('pending','sending')
	`, campaignID, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// RetrySweep requeues failed jobs below the retry cap and parks the rest in
// failed_permanent. maxRetries <= 0 disables the cap.
func (s *Store) RetrySweep(ctx context.Context, maxRetries int, now time.Time) (domain.RetryResult, error) {
	var res domain.RetryResult

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if maxRetries > 0 {
		ct, err := tx.Exec(ctx, `
			UPDATE queue_messages SET status='failed_permanent', updated_at=$2
			WHERE status='failed' AND retry_count >= $1
		`, maxRetries, now)
		if err != nil {
			return res, err
		}
		res.Exhausted = ct.RowsAffected()
	}

	ct, err := tx.Exec(ctx, `
		UPDATE queue_messages SET status='pending', retry_count=retry_count+1, updated_at=$2
		WHERE status='failed' AND ($1 <= 0 OR retry_count < $1)
	`, maxRetries, now)
	if err != nil {
		return res, err
	}
	res.Requeued = ct.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return domain.RetryResult{}, err
	}
	return res, nil
}

func (s *Store) PurgeOld(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		DELETE FROM queue_messages
		WHERE status IN ('sent','cancelled') AND updated_at < $1
	`, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) FailStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE queue_messages SET status='failed', error=$3, updated_at=$2
		WHERE status='sending' AND updated_at < $1
	`, now.Add(-olderThan), now, domain.ReasonSendingTimeout)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.QueueMessage, error) {
	m, err := scanMessage(s.DB.QueryRow(ctx, `SELECT `+messageColumns+` FROM queue_messages WHERE id=$1`, id))
	if err != nil {
		if isNoRows(err) {
			return domain.QueueMessage{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
		}
		return domain.QueueMessage{}, err
	}
	return m, nil
}

func (s *Store) CountByStatus(ctx context.Context, campaignID string) (store.StatusCounts, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT status, COUNT(*) FROM queue_messages WHERE campaign_id=$1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := store.StatusCounts{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.MessageStatus(status)] = n
	}
	return out, rows.Err()
}
