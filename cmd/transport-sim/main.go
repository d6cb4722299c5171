// transport-sim stands in for the channel transports in local setups: it
// drains the handoff queues and publishes a delivery report per job.
package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"outreach/internal/awsutil"
	"outreach/internal/config"
	"outreach/internal/domain"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
	sqsqueue "outreach/internal/queue/sqs"
	"outreach/internal/util"
)

type simulator struct {
	cfg     config.TransportSimConfig
	reports *sqsqueue.ReportProducer

	rngMu sync.Mutex
	rng   *rand.Rand
}

func main() {
	cfg := config.LoadTransportSim()
	logging.Init("transport-sim", cfg.LogFormat, cfg.LogLevel)

	if cfg.ReportsQueueURL == "" {
		slog.Error("transport-sim needs SQS_REPORTS_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("transport-sim sqs client init failed", "err", err)
		os.Exit(1)
	}

	sim := &simulator{
		cfg:     cfg,
		reports: &sqsqueue.ReportProducer{SQS: client, QueueURL: cfg.ReportsQueueURL},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	queues := map[domain.Channel]string{
		domain.ChannelEmail:    cfg.EmailQueueURL,
		domain.ChannelSMS:      cfg.SMSQueueURL,
		domain.ChannelWhatsApp: cfg.WhatsAppQueueURL,
		domain.ChannelTelegram: cfg.TelegramQueueURL,
	}

	var wg sync.WaitGroup
	pollErrCh := make(chan error, len(queues))
	for ch, url := range queues {
		if url == "" {
			continue
		}
		consumer := &sqsqueue.Consumer{
			SQS:               client,
			QueueURL:          url,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			MaxMessages:       cfg.SQSMaxMsgs,
			VisibilityTimeout: cfg.SQSVizTimeout,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("transport-sim consuming", "channel", ch, "queue_url", url)
			pollErrCh <- consumer.PollConcurrent(ctx, cfg.Concurrency, sqsqueue.HandoffHandler(sim.deliver))
		}()
	}

	healthMux := httpserver.New().Mux
	healthMux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: healthMux}
	healthErrCh := make(chan error, 1)
	go func() {
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("transport-sim poll failed", "err", err)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("transport-sim health server failed", "err", err)
		}
	case sig := <-sigCh:
		slog.Info("transport-sim shutdown", "signal", sig.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	wg.Wait()
}

// deliver fakes transport latency and reports the outcome.
func (s *simulator) deliver(ctx context.Context, job sqsqueue.HandoffJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.randDuration(s.cfg.MinLatency, s.cfg.MaxLatency)):
	}

	r := domain.DeliveryReport{MessageID: job.MessageID, Delivered: true, OccurredAt: util.NowUTC()}
	if job.To == "" {
		r.Delivered, r.Error = false, "no_destination"
	} else if s.roll() < s.cfg.FailRate {
		r.Delivered, r.Error = false, "simulated_failure"
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.reports.Publish(pubCtx, r); err != nil {
		return err
	}
	slog.Info("transport-sim reported", "message_id", job.MessageID, "channel", job.Channel,
		"attempt", job.Attempt, "delivered", r.Delivered)
	return nil
}

func (s *simulator) roll() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *simulator) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	s.rngMu.Lock()
	n := s.rng.Int63n(span + 1)
	s.rngMu.Unlock()
	return min + time.Duration(n)
}
