// Command iib-api serves the HTTP surface described in spec section 6: it
// validates and persists submissions, classifies and dispatches them onto
// the worker queues, and serves read endpoints against the store.
//
// Every replica of this binary owns a complete pkg/dispatcher instance
// with a real builder.Builder wired in as its Runner (see pkg/service) —
// whichever replica accepts a POST also executes the resulting build
// in-process. Scale by running more replicas behind a shared load
// balancer and a shared database, not by splitting accept-and-dispatch
// from execute across processes: pkg/dispatcher's queues are in-memory
// and private to the process that built them, so there is no channel by
// which a second process could pull work enqueued in the first. See
// cmd/iib-worker's package comment and DESIGN.md for the full rationale.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/config"
	"github.com/release-engineering/iib-sub001/pkg/iiblog"
	"github.com/release-engineering/iib-sub001/pkg/metrics"
	"github.com/release-engineering/iib-sub001/pkg/service"
)

type options struct {
	migrate bool
}

func bindOptions(fs *flag.FlagSet) *options {
	o := &options{}
	fs.BoolVar(&o.migrate, "migrate", true, "Apply pending database migrations before serving traffic.")
	return o
}

func main() {
	o := bindOptions(flag.CommandLine)
	flag.Parse()

	cfg := config.Load()
	iiblog.Configure(cfg.LogLevel, cfg.AdditionalLoggers)
	if err := config.Validate(cfg); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	svc, err := service.Build(cfg, o.migrate)
	if err != nil {
		logrus.WithError(err).Fatal("failed to wire the IIB service")
	}
	defer svc.Close()

	httpServer := &http.Server{
		Addr:    cfg.APIListenAddr,
		Handler: metrics.InstrumentHandler(withMetricsRoute(svc.Server)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithField("addr", cfg.APIListenAddr).Info("serving the IIB API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("API server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("graceful shutdown failed")
	}
}

// withMetricsRoute adds /metrics alongside the API's own routes without
// requiring api.Server to know about Prometheus.
func withMetricsRoute(upstream http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", upstream)
	return mux
}
