package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outreach/internal/config"
	"outreach/internal/dispatch"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
	"outreach/internal/maintenance"
	"outreach/internal/observability"
	"outreach/internal/service"
	"outreach/internal/store/backend"
	"outreach/internal/util"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := backend.Open(ctx, cfg.DBConfig)
	if err != nil {
		slog.Error("api store open failed", "err", err, "store", cfg.Store)
		os.Exit(1)
	}
	defer closeStore()

	observability.Register(prometheus.DefaultRegisterer)

	svc := &service.CampaignService{
		Campaigns:  st,
		Recipients: st,
		Queue:      st,
		MaxRetries: cfg.MaxRetries,
		IDGen:      util.NewMessageID,
	}

	sweeps, err := maintenance.New(svc, maintenance.Config{
		RetrySchedule:  cfg.RetrySweepSchedule,
		StaleSchedule:  cfg.StaleSweepSchedule,
		PurgeSchedule:  cfg.PurgeSchedule,
		RetentionDays:  cfg.RetentionDays,
		SendingTimeout: cfg.SendingTimeout,
	})
	if err != nil {
		slog.Error("api maintenance init failed", "err", err)
		os.Exit(1)
	}
	sweeps.Start()

	// the memory store is process-local, so drain it in-process
	dispatchErrCh := make(chan error, 1)
	if cfg.Store == "memory" {
		d := &dispatch.Dispatcher{Store: st, Sender: dispatch.LogSender{}}
		go func() {
			slog.Info("api running embedded dispatcher")
			dispatchErrCh <- d.Run(ctx)
		}()
	}

	s := httpserver.New()
	s.Mux.Use(httpserver.Logging, httpserver.Metrics(observability.APIRequests))
	(&httpserver.API{Svc: svc}).Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, httpserver.Check{Name: "store", Fn: st.Ping})).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	srvErrCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "port", cfg.Port)
		srvErrCh <- srv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-srvErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "err", err)
			exitCode = 1
		}
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
			exitCode = 1
		}
	case err := <-dispatchErrCh:
		slog.Error("api embedded dispatcher stopped", "err", err)
		exitCode = 1
	case sig := <-sigCh:
		slog.Info("api shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	sweeps.Stop(shutdownCtx)

	if exitCode != 0 {
		closeStore()
		os.Exit(exitCode)
	}
}
