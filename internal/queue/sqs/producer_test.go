package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"outreach/internal/dispatch"
	"outreach/internal/domain"
)

type fakeSendAPI struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSendAPI) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: str("sqs-1")}, nil
}

func TestMessageGroupIDBucketed(t *testing.T) {
	tenant := "t1"
	to := "+19990000001"

	got1 := messageGroupIDBucketed(tenant, to, 2000)
	got2 := messageGroupIDBucketed(tenant, to, 2000)
	if got1 != got2 {
		t.Fatalf("expected stable group id, got %q vs %q", got1, got2)
	}
	if !strings.HasPrefix(got1, tenant+":") {
		t.Fatalf("group id %q not scoped to tenant", got1)
	}

	// buckets<=0 should use default.
	got3 := messageGroupIDBucketed(tenant, to, 0)
	if got3 == "" {
		t.Fatalf("expected non-empty group id for default buckets")
	}
}

func smsJob() domain.QueueMessage {
	return domain.QueueMessage{
		ID: "msg_1", TenantID: "t1", CampaignID: "c1", RecipientID: "r1",
		Channel: domain.ChannelSMS, Content: "hola Ana", RetryCount: 2,
		Metadata: map[string]string{domain.MetaPhone: "+5215550001"},
	}
}

func TestHandoffSendFIFO(t *testing.T) {
	api := &fakeSendAPI{}
	h := &Handoff{SQS: api, QueueURLs: map[domain.Channel]string{
		domain.ChannelSMS: "https://sqs.local/000/sms.fifo",
	}}

	out, err := h.Send(context.Background(), smsJob())
	if err != nil || out != dispatch.Accepted {
		t.Fatalf("Send = %v, %v", out, err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("sent %d messages", len(api.inputs))
	}
	in := api.inputs[0]
	if in.MessageGroupId == nil || in.MessageDeduplicationId == nil {
		t.Fatalf("fifo fields missing: %+v", in)
	}
	if *in.MessageDeduplicationId != "msg_1-2" {
		t.Fatalf("dedup id = %q", *in.MessageDeduplicationId)
	}

	var job HandoffJob
	if err := json.Unmarshal([]byte(*in.MessageBody), &job); err != nil {
		t.Fatal(err)
	}
	if job.To != "+5215550001" || job.Attempt != 3 || job.Content != "hola Ana" {
		t.Fatalf("job = %+v", job)
	}
}

func TestHandoffSendStandardQueue(t *testing.T) {
	api := &fakeSendAPI{}
	h := &Handoff{SQS: api, QueueURLs: map[domain.Channel]string{
		domain.ChannelSMS: "https://sqs.local/000/sms",
	}}

	if _, err := h.Send(context.Background(), smsJob()); err != nil {
		t.Fatal(err)
	}
	if in := api.inputs[0]; in.MessageGroupId != nil || in.MessageDeduplicationId != nil {
		t.Fatalf("standard queue got fifo fields: %+v", in)
	}
}

func TestHandoffSendErrors(t *testing.T) {
	h := &Handoff{SQS: &fakeSendAPI{}, QueueURLs: map[domain.Channel]string{}}
	if _, err := h.Send(context.Background(), smsJob()); !errors.Is(err, dispatch.ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}

	boom := errors.New("throttled")
	h = &Handoff{SQS: &fakeSendAPI{err: boom}, QueueURLs: map[domain.Channel]string{
		domain.ChannelSMS: "https://sqs.local/000/sms",
	}}
	if _, err := h.Send(context.Background(), smsJob()); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestReportProducerPublish(t *testing.T) {
	api := &fakeSendAPI{}
	p := &ReportProducer{SQS: api, QueueURL: "https://sqs.local/000/reports"}

	if err := p.Publish(context.Background(), domain.DeliveryReport{MessageID: "msg_1", Delivered: true}); err != nil {
		t.Fatal(err)
	}
	var got domain.DeliveryReport
	if err := json.Unmarshal([]byte(*api.inputs[0].MessageBody), &got); err != nil {
		t.Fatal(err)
	}
	if got.MessageID != "msg_1" || !got.Delivered {
		t.Fatalf("report = %+v", got)
	}
}
