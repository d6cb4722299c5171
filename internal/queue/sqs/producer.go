package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"outreach/internal/dispatch"
	"outreach/internal/domain"
)

const defaultGroupBuckets = 1024

type SendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// HandoffJob is the envelope a transport worker receives for one job.
// Keep it small; SQS has a 256KB message size limit.
type HandoffJob struct {
	MessageID   string         `json:"messageId"`
	TenantID    string         `json:"tenantId"`
	CampaignID  string         `json:"campaignId,omitempty"`
	RecipientID string         `json:"recipientId"`
	Channel     domain.Channel `json:"channel"`
	To          string         `json:"to"`
	Subject     string         `json:"subject,omitempty"`
	Content     string         `json:"content"`
	Attempt     int            `json:"attempt"`
}

// Handoff is a dispatch.Sender that publishes jobs to a per-channel SQS
// queue. Delivery is finished later by a report on the reports queue.
type Handoff struct {
	SQS       SendAPI
	QueueURLs map[domain.Channel]string

	// GroupBuckets bounds the number of FIFO message groups.
	GroupBuckets int
}

func (h *Handoff) Send(ctx context.Context, m domain.QueueMessage) (dispatch.Outcome, error) {
	queueURL := h.QueueURLs[m.Channel]
	if queueURL == "" {
		return dispatch.Accepted, fmt.Errorf("%w: %s", dispatch.ErrNoRoute, m.Channel)
	}

	job := HandoffJob{
		MessageID:   m.ID,
		TenantID:    m.TenantID,
		CampaignID:  m.CampaignID,
		RecipientID: m.RecipientID,
		Channel:     m.Channel,
		To:          destination(m),
		Subject:     m.Subject,
		Content:     m.Content,
		Attempt:     m.RetryCount + 1,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return dispatch.Accepted, err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &queueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(queueURL, ".fifo") {
		// FIFO ordering per recipient, bounded group count
		in.MessageGroupId = str(messageGroupIDBucketed(m.TenantID, job.To, h.GroupBuckets))
		// retries must not be swallowed by the dedup window
		in.MessageDeduplicationId = str(fmt.Sprintf("%s-%d", m.ID, m.RetryCount))
	}
	if _, err := h.SQS.SendMessage(ctx, in); err != nil {
		return dispatch.Accepted, err
	}
	return dispatch.Accepted, nil
}

func destination(m domain.QueueMessage) string {
	if m.Channel == domain.ChannelEmail {
		return m.Metadata[domain.MetaEmail]
	}
	return m.Metadata[domain.MetaPhone]
}

func messageGroupIDBucketed(tenantID, to string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID + ":" + to))
	return fmt.Sprintf("%s:%d", tenantID, h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }
