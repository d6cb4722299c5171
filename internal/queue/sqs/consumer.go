package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"outreach/internal/domain"
)

// ErrBadPayload marks a message that can never be processed. It is deleted
// instead of being left for redrive.
var ErrBadPayload = errors.New("bad payload")

type ReceiveAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type Consumer struct {
	SQS      ReceiveAPI
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type Handler func(ctx context.Context, body []byte) error

// ReportHandler decodes delivery reports for fn.
func ReportHandler(fn func(ctx context.Context, r domain.DeliveryReport) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var r domain.DeliveryReport
		if err := json.Unmarshal(body, &r); err != nil || r.MessageID == "" {
			return fmt.Errorf("%w: delivery report", ErrBadPayload)
		}
		return fn(ctx, r)
	}
}

// HandoffHandler decodes handoff jobs for fn.
func HandoffHandler(fn func(ctx context.Context, job HandoffJob) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var job HandoffJob
		if err := json.Unmarshal(body, &job); err != nil || job.MessageID == "" {
			return fmt.Errorf("%w: handoff job", ErrBadPayload)
		}
		return fn(ctx, job)
	}
}

// PollConcurrent processes messages with a worker pool. Messages are deleted
// only after the handler succeeds or rejects the payload; on any other error
// they are left for SQS redrive/DLQ. It returns when ctx is cancelled and
// in-flight messages are done.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan types.Message, workers*2)
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	go func() {
		defer close(jobs)

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: c.MaxMessages,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("sqs receive message failed", "err", err, "queue_url", c.QueueURL)
				}
				select {
				case <-ctx.Done():
				case <-time.After(500 * time.Millisecond):
				}
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	// Wait for shutdown signal (ctx canceled)
	err := <-errCh

	// Let workers finish whatever is already in `jobs` (channel will be closed by producer)
	wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler Handler) {
	if m.Body == nil {
		c.delete(ctx, m)
		return
	}
	err := handler(ctx, []byte(*m.Body))
	switch {
	case err == nil:
		c.delete(ctx, m)
	case errors.Is(err, ErrBadPayload):
		slog.Warn("sqs dropping bad payload", "err", err, "message_id", deref(m.MessageId))
		c.delete(ctx, m)
	default:
		slog.Error("sqs handler error", "err", err, "message_id", deref(m.MessageId))
	}
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.SQS.DeleteMessage(delCtx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		slog.Error("sqs delete message failed", "err", err, "message_id", deref(m.MessageId))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
