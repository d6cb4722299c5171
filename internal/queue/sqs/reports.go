package sqsqueue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"outreach/internal/domain"
)

// ReportProducer publishes delivery reports for handed-off jobs.
type ReportProducer struct {
	SQS      SendAPI
	QueueURL string
}

func (p *ReportProducer) Publish(ctx context.Context, r domain.DeliveryReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}
