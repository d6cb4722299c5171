package store

import (
	"time"

	"outreach/internal/domain"
)

// ScheduleCommit is the single write that turns a resolved audience into a
// campaign batch. It only applies if the campaign is still in ExpectStatus
// and has no pending or sending jobs.
type ScheduleCommit struct {
	CampaignID      string
	ExpectStatus    domain.CampaignStatus
	NewStatus       domain.CampaignStatus
	TotalRecipients int
	ScheduledAt     *time.Time
	Jobs            []domain.QueueMessage
	Now             time.Time
}

type CampaignStatusUpdate struct {
	CampaignID string
	Status     domain.CampaignStatus
	Now        time.Time
}

// StatusCounts maps each job status to its row count for one campaign.
type StatusCounts map[domain.MessageStatus]int

// Total sums all statuses.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
