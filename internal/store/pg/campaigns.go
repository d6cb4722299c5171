package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"outreach/internal/domain"
	"outreach/internal/store"
)

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	var (
		c          domain.Campaign
		filterJSON []byte
		channel    string
		status     string
	)
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, name, channel, content, COALESCE(subject,''), audience_filter,
		       status, total_recipients, scheduled_at, created_at, updated_at
		FROM campaigns WHERE id=$1
	`, id)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &channel, &c.Content, &c.Subject, &filterJSON,
		&status, &c.TotalRecipients, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.Campaign{}, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
		}
		return domain.Campaign{}, err
	}
	c.Channel = domain.Channel(channel)
	c.Status = domain.CampaignStatus(status)
	if len(filterJSON) > 0 {
		if err := json.Unmarshal(filterJSON, &c.Filter); err != nil {
			return domain.Campaign{}, fmt.Errorf("campaign %s audience filter: %w", id, err)
		}
	}
	return c, nil
}

// InsertCampaign is used by seeding and tests; campaign authoring lives elsewhere.
func (s *Store) InsertCampaign(ctx context.Context, c domain.Campaign) error {
	b, err := json.Marshal(c.Filter)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO campaigns (id, tenant_id, name, channel, content, subject, audience_filter, status, total_recipients, scheduled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, c.ID, c.TenantID, c.Name, string(c.Channel), c.Content, nullIfEmpty(c.Subject), b,
		string(c.Status), c.TotalRecipients, c.ScheduledAt, c.CreatedAt)
	return err
}

func (s *Store) SetCampaignStatus(ctx context.Context, in store.CampaignStatusUpdate) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$2, updated_at=$3 WHERE id=$1
	`, in.CampaignID, string(in.Status), in.Now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s: %w", in.CampaignID, domain.ErrNotFound)
	}
	return nil
}

// CommitSchedule flips the campaign status and inserts the batch in one
// transaction. The status compare-and-set plus the active-jobs check (test
// sends excluded) make a second schedule of the same campaign fail with
// ErrAlreadyScheduled.
func (s *Store) CommitSchedule(ctx context.Context, in store.ScheduleCommit) error {
	jobs, err := store.PrepareJobs(in.Jobs, in.Now)
	if err != nil {
		return err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE campaigns
		SET status=$3, total_recipients=$4, scheduled_at=$5, updated_at=$6
		WHERE id=$1 AND status=$2
		  AND NOT EXISTS (
		    SELECT 1 FROM queue_messages
		    WHERE campaign_id=$1 AND status IN ('pending','sending')
		      AND COALESCE(metadata->>'test','') <> 'true'
		  )
	`, in.CampaignID, string(in.ExpectStatus), string(in.NewStatus), in.TotalRecipients, in.ScheduledAt, in.Now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id=$1)`, in.CampaignID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("campaign %s: %w", in.CampaignID, domain.ErrNotFound)
		}
		return fmt.Errorf("campaign %s: %w", in.CampaignID, domain.ErrAlreadyScheduled)
	}

	if err := insertJobs(ctx, tx, jobs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertJobs(ctx context.Context, tx pgx.Tx, jobs []domain.QueueMessage) error {
	if len(jobs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, j := range jobs {
		meta, err := json.Marshal(j.Metadata)
		if err != nil {
			return err
		}
		if j.Metadata == nil {
			meta = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO queue_messages (id, campaign_id, recipient_id, tenant_id, channel, content, subject,
			                            scheduled_at, status, metadata, retry_count, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12)
		`, j.ID, nullIfEmpty(j.CampaignID), j.RecipientID, j.TenantID, string(j.Channel), j.Content,
			nullIfEmpty(j.Subject), j.ScheduledAt, string(j.Status), meta, j.CreatedAt, j.UpdatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range jobs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert job %s: %w", jobs[i].ID, err)
		}
	}
	return br.Close()
}
