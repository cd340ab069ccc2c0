// Command iib-worker runs the identical pkg/service composition as
// cmd/iib-api: an HTTP server plus a builder-backed dispatcher sharing one
// database. It exists as a separate binary for operators who want to
// scale build-heavy traffic independently of read-heavy /builds traffic
// by running more iib-worker replicas behind the mutating routes and
// more iib-api replicas behind the read-only ones, while every replica
// remains capable of accepting and fully executing any request type.
//
// This deliberately does not attempt a deeper split where iib-api only
// enqueues and iib-worker only executes: pkg/dispatcher's queues are
// plain in-memory channels (see pkg/dispatcher's package comment), so a
// task enqueued in one OS process is invisible to any worker pool running
// in another. Giving iib-worker that narrower role would mean every
// request submitted through an iib-api replica silently never builds.
// Making the database itself the handoff point (a claimed/polled queue
// column) would resolve this properly but is a larger schema change than
// this deviation from the spec's prose warrants; see DESIGN.md.
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
	fs.BoolVar(&o.migrate, "migrate", false, "Apply pending database migrations before serving traffic. Left off by default: iib-api's replica is expected to own schema migration.")
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
		Addr:    cfg.WorkerListenAddr,
		Handler: metrics.InstrumentHandler(withMetricsRoute(svc.Server)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithField("addr", cfg.WorkerListenAddr).Info("serving the IIB worker plane")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("worker server stopped unexpectedly")
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

func withMetricsRoute(upstream http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", upstream)
	return mux
}
