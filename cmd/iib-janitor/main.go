// Command iib-janitor periodically sweeps expired related-bundles
// artifacts (SPEC_FULL.md section 4 item 4, IIB_REQUEST_DATA_DAYS_TO_LIVE).
// Request-log expiry needs no sweep: pkg/logs enforces its own TTL at read
// time (a request past its log lifetime serves 410 Gone) rather than
// deleting anything, so there is nothing here for it to prune.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/config"
	"github.com/release-engineering/iib-sub001/pkg/iiblog"
	"github.com/release-engineering/iib-sub001/pkg/relatedbundles"
)

type options struct {
	once     bool
	interval time.Duration
}

func bindOptions(fs *flag.FlagSet) *options {
	o := &options{}
	fs.BoolVar(&o.once, "once", false, "Run a single sweep and exit, instead of looping on --interval.")
	fs.DurationVar(&o.interval, "interval", time.Hour, "How often to sweep for expired related-bundles artifacts.")
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

	if cfg.RelatedBundlesDir == "" {
		logrus.Info("IIB_REQUEST_RECURSIVE_RELATED_BUNDLES_DIR is not set; nothing to sweep")
		return
	}
	backend := relatedbundles.NewLocalBackend(cfg.RelatedBundlesDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweep(ctx, backend, cfg.RequestDataDaysToLive)
	if o.once {
		return
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("shutting down")
			return
		case <-ticker.C:
			sweep(ctx, backend, cfg.RequestDataDaysToLive)
		}
	}
}

func sweep(ctx context.Context, backend relatedbundles.Backend, daysToLive int) {
	n, err := relatedbundles.PruneExpired(ctx, backend, daysToLive)
	if err != nil {
		logrus.WithError(err).Error("related-bundles sweep failed")
		return
	}
	logrus.WithField("pruned", n).Info("related-bundles sweep complete")
}
