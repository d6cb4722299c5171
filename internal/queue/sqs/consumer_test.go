package sqsqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"outreach/internal/domain"
)

type fakeReceiveAPI struct {
	mu      sync.Mutex
	batch   []types.Message
	deleted []string
}

func (f *fakeReceiveAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.batch
	f.batch = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeReceiveAPI) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeReceiveAPI) deletedSet() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, h := range f.deleted {
		out[h] = true
	}
	return out
}

func msg(handle, body string) types.Message {
	return types.Message{MessageId: str(handle), ReceiptHandle: str(handle), Body: str(body)}
}

func TestPollConcurrentDeletesOnlyHandled(t *testing.T) {
	api := &fakeReceiveAPI{batch: []types.Message{
		msg("ok", `{"messageId":"msg_1","delivered":true}`),
		msg("bad-json", `{not json`),
		msg("retry", `{"messageId":"msg_2","delivered":true}`),
	}}
	c := &Consumer{SQS: api, QueueURL: "q"}

	var mu sync.Mutex
	seen := map[string]bool{}
	handler := ReportHandler(func(ctx context.Context, r domain.DeliveryReport) error {
		mu.Lock()
		seen[r.MessageID] = true
		mu.Unlock()
		if r.MessageID == "msg_2" {
			return errors.New("db unavailable")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.PollConcurrent(ctx, 2, handler); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PollConcurrent returned %v", err)
	}

	if !seen["msg_1"] || !seen["msg_2"] {
		t.Fatalf("handler saw %v", seen)
	}
	del := api.deletedSet()
	if !del["ok"] || !del["bad-json"] {
		t.Fatalf("deleted = %v", del)
	}
	if del["retry"] {
		t.Fatalf("failed message must stay on the queue")
	}
}

func TestHandoffHandlerRejectsMissingID(t *testing.T) {
	called := false
	h := HandoffHandler(func(ctx context.Context, job HandoffJob) error {
		called = true
		return nil
	})
	if err := h(context.Background(), []byte(`{"content":"x"}`)); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
	if called {
		t.Fatalf("handler called for bad payload")
	}
}
