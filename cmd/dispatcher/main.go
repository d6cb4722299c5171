package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"outreach/internal/awsutil"
	"outreach/internal/config"
	"outreach/internal/dispatch"
	"outreach/internal/domain"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
	"outreach/internal/observability"
	"outreach/internal/providers/gateway"
	sqsqueue "outreach/internal/queue/sqs"
	"outreach/internal/store/backend"
)

func main() {
	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Store == "memory" {
		slog.Error("dispatcher needs a shared store; STORE=memory only works inside the api process")
		os.Exit(1)
	}
	st, closeStore, err := backend.Open(ctx, cfg.DBConfig)
	if err != nil {
		slog.Error("dispatcher store open failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	sender, err := newSender(ctx, cfg)
	if err != nil {
		slog.Error("dispatcher sender init failed", "err", err, "sender", cfg.Sender)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	d := &dispatch.Dispatcher{
		Store:    st,
		Sender:   sender,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.SendBurst),
		Breakers: dispatch.NewBreakers(gobreaker.Settings{
			Name:        "sender",
			MaxRequests: 3,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		SendTimeout:  cfg.SendTimeout,
		ReleaseDelay: cfg.ReleaseDelay,
	}

	healthMux := httpserver.New().Mux
	healthMux.Use(httpserver.Logging)
	healthMux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, httpserver.Check{Name: "store", Fn: st.Ping})).Methods(http.MethodGet)

	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: healthMux}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	runErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher starting", "sender", cfg.Sender, "batch", cfg.BatchSize, "concurrency", cfg.Concurrency)
		runErrCh <- d.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatcher run failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher health server failed", "err", err)
			os.Exit(1)
		}
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher metrics server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-runErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("dispatcher shutdown timeout waiting for run loop")
	}
}

func newSender(ctx context.Context, cfg config.DispatcherConfig) (dispatch.Sender, error) {
	switch cfg.Sender {
	case "log":
		return dispatch.LogSender{}, nil
	case "sqs":
		client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return nil, err
		}
		urls := map[domain.Channel]string{}
		for ch, u := range map[domain.Channel]string{
			domain.ChannelEmail:    cfg.EmailQueueURL,
			domain.ChannelSMS:      cfg.SMSQueueURL,
			domain.ChannelWhatsApp: cfg.WhatsAppQueueURL,
			domain.ChannelTelegram: cfg.TelegramQueueURL,
		} {
			if u != "" {
				urls[ch] = u
			}
		}
		if len(urls) == 0 {
			return nil, errors.New("SENDER=sqs needs at least one SQS_*_QUEUE_URL")
		}
		return &sqsqueue.Handoff{SQS: client, QueueURLs: urls, GroupBuckets: cfg.GroupBuckets}, nil
	case "http":
		if cfg.GatewayURL == "" {
			return nil, errors.New("SENDER=http needs GATEWAY_URL")
		}
		return &gateway.Client{
			BaseURL: cfg.GatewayURL,
			Secret:  cfg.GatewaySecret,
			HTTP:    &http.Client{Timeout: cfg.GatewayTimeout},
		}, nil
	default:
		return nil, fmt.Errorf("unknown SENDER %q", cfg.Sender)
	}
}
