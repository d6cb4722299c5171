package domain

import (
	"errors"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
)

// Known reports whether c is one of the channels the pipeline schedules for.
func (c Channel) Known() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelTelegram:
		return true
	}
	return false
}

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignArchived  CampaignStatus = "archived"
)

// Schedulable reports whether a campaign in this status may receive a new batch.
func (s CampaignStatus) Schedulable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

type MessageStatus string

const (
	StatusPending         MessageStatus = "pending"
	StatusSending         MessageStatus = "sending"
	StatusSent            MessageStatus = "sent"
	StatusFailed          MessageStatus = "failed"
	StatusCancelled       MessageStatus = "cancelled"
	StatusFailedPermanent MessageStatus = "failed_permanent"
)

// AllStatuses lists every job status in life-cycle order.
var AllStatuses = []MessageStatus{
	StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled, StatusFailedPermanent,
}

// Terminal reports whether no further transition leaves this status.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusCancelled || s == StatusFailedPermanent
}

type Campaign struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	Name            string         `json:"name,omitempty"`
	Channel         Channel        `json:"channel"`
	Content         string         `json:"content"`
	Subject         string         `json:"subject,omitempty"`
	Filter          AudienceFilter `json:"audienceFilter"`
	Status          CampaignStatus `json:"status"`
	TotalRecipients int            `json:"totalRecipients"`
	ScheduledAt     *time.Time     `json:"scheduledAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Validate checks what scheduling needs from a campaign definition.
func (c Campaign) Validate() error {
	if c.TenantID == "" {
		return validationf("campaign %s has no tenant", c.ID)
	}
	if !c.Channel.Known() {
		return validationf("campaign %s has unknown channel %q", c.ID, c.Channel)
	}
	if strings.TrimSpace(c.Content) == "" {
		return validationf("campaign %s has an empty content template", c.ID)
	}
	return c.Filter.Validate()
}

type Recipient struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId,omitempty"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	CompanyName string   `json:"companyName"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags,omitempty"`
}

// DisplayName is the label shown for a recipient in test sends and dashboards.
func (r Recipient) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	if r.Email != "" {
		return r.Email
	}
	if r.Phone != "" {
		return r.Phone
	}
	return r.ID
}

// Metadata keys snapshotted on every job.
const (
	MetaName  = "name"
	MetaEmail = "email"
	MetaPhone = "phone"
	MetaTest  = "test"
)

// Snapshot captures the recipient fields kept on a job for display and dispatch.
func (r Recipient) Snapshot() map[string]string {
	return map[string]string{
		MetaName:  r.Name,
		MetaEmail: r.Email,
		MetaPhone: r.Phone,
	}
}

type QueueMessage struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaignId,omitempty"`
	RecipientID string            `json:"recipientId"`
	TenantID    string            `json:"tenantId"`
	Channel     Channel           `json:"channel"`
	Content     string            `json:"content"`
	Subject     string            `json:"subject,omitempty"`
	ScheduledAt time.Time         `json:"scheduledAt"`
	Status      MessageStatus     `json:"status"`
	SentAt      *time.Time        `json:"sentAt,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RetryCount  int               `json:"retryCount"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Validate checks a job before it is accepted into the queue.
func (m QueueMessage) Validate() error {
	switch {
	case m.ID == "":
		return validationf("job has no id")
	case m.TenantID == "":
		return validationf("job %s has no tenant", m.ID)
	case m.RecipientID == "":
		return validationf("job %s has no recipient", m.ID)
	case !m.Channel.Known():
		return validationf("job %s has unknown channel %q", m.ID, m.Channel)
	case strings.TrimSpace(m.Content) == "":
		return validationf("job %s has empty content", m.ID)
	case m.ScheduledAt.IsZero():
		return validationf("job %s has no scheduled_at", m.ID)
	}
	return nil
}

// CampaignStats are per-status job counts for one campaign.
type CampaignStats struct {
	CampaignID      string  `json:"campaignId"`
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Sending         int     `json:"sending"`
	Sent            int     `json:"sent"`
	Failed          int     `json:"failed"`
	FailedPermanent int     `json:"failedPermanent"`
	Cancelled       int     `json:"cancelled"`
	Progress        float64 `json:"progress"`
	IsComplete      bool    `json:"isComplete"`
}

// DeliveryReport is the asynchronous outcome of a job handed off to a transport.
type DeliveryReport struct {
	MessageID  string    `json:"messageId"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ReasonSendingTimeout is the job error recorded when a claimed job never reported back.
const ReasonSendingTimeout = "sending_timeout"

// RetryResult reports a retry sweep.
type RetryResult struct {
	Requeued  int64 `json:"requeued"`
	Exhausted int64 `json:"exhausted"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrEmptyAudience     = errors.New("audience filter matched no recipients")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyScheduled  = errors.New("campaign already scheduled")
	ErrInvalidTransition = errors.New("invalid status transition")
)
