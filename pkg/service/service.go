// Package service assembles the full IIB dependency graph from a loaded
// config.Config. cmd/iib-api and cmd/iib-worker both run the identical
// composition below (cmd/iib-worker's package comment and DESIGN.md's
// process-layout section explain why);
// factoring it out once keeps the two entrypoints from drifting.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/builder"
	"github.com/release-engineering/iib-sub001/pkg/cacheregion"
	"github.com/release-engineering/iib-sub001/pkg/config"
	"github.com/release-engineering/iib-sub001/pkg/dispatcher"
	"github.com/release-engineering/iib-sub001/pkg/gitcatalog"
	"github.com/release-engineering/iib-sub001/pkg/imagestreamcache"
	"github.com/release-engineering/iib-sub001/pkg/logs"
	"github.com/release-engineering/iib-sub001/pkg/notify"
	"github.com/release-engineering/iib-sub001/pkg/pipelineclient"
	"github.com/release-engineering/iib-sub001/pkg/registryclient"
	"github.com/release-engineering/iib-sub001/pkg/relatedbundles"
	"github.com/release-engineering/iib-sub001/pkg/store"

	"github.com/redis/go-redis/v9"
)

// Components holds every wired dependency an entrypoint needs. Server is
// nil-safe to serve (cmd/iib-janitor never builds one); Dispatcher always
// owns a real builder.Builder as its Runner, so any replica that accepts
// a Dispatch call also executes the resulting build in-process (spec
// section 4.7's queueing/4.8's execution are not separable processes
// here — see cmd/iib-worker's package comment).
type Components struct {
	DB         *store.PostgresStore
	LogStore   *logs.Store
	Related    *relatedbundles.Store
	Bus        *notify.Bus
	Dispatcher *dispatcher.Dispatcher
	Server     *api.Server
}

// Build wires the complete dependency graph described in SPEC_FULL.md
// sections C1-C8, applying pending migrations when migrate is true.
func Build(cfg *config.Config, migrate bool) (*Components, error) {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}

	logStore := buildLogStore(cfg, db)
	relatedStore := buildRelatedBundlesStore(cfg)
	bus := buildBus(cfg)

	registry := registryclient.New()

	git := gitcatalog.New(gitcatalog.ConfigCredentials{
		IndexToGitlabPushMap: cfg.IndexToGitlabPushMap,
		GitlabTokensMap:      cfg.GitlabTokensMap,
	}, buildGitLabClient(cfg))

	pipeline, err := pipelineclient.New(pipelineclient.Config{
		ClusterURL: cfg.KonfluxClusterURL,
		Token:      cfg.KonfluxClusterToken,
		CACert:     cfg.KonfluxClusterCACert,
		Namespace:  cfg.KonfluxNamespace,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	cache, err := buildImageStreamCache(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	opmTool := builder.NewExecOpm("")
	region := buildCacheRegion(cfg)
	related := builder.NewRelatedBundlesResolver(builder.NewCachedInspector(opmTool, region), relatedStore, 0)

	b := builder.New(db, registry, git, pipeline, bus, cache, opmTool, related, builder.Config{
		BundleWorkerPool: cfg.BundleWorkerPool,
		RetryConfig: pipelineclient.RetryConfig{
			TotalAttempts: cfg.TotalAttempts,
			BaseDelay:     time.Second,
			Multiplier:    cfg.RetryMultiplier,
		},
		PipelineTimeout:            cfg.KonfluxPipelineTimeout,
		IndexDBArtifactRegistry:    cfg.IndexDBArtifactRegistry,
		IndexDBArtifactTemplate:    cfg.IndexDBArtifactTemplate,
		IndexDBArtifactTagTemplate: cfg.IndexDBArtifactTagTemplate,
		UseImagestreamCache:        cfg.UseImagestreamCache,
		Registry:                   cfg.Registry,
		ImagePushTemplate:          cfg.ImagePushTemplate,
		CommitterName:              "iib-service",
		CommitterEmail:             "iib-service@iib.local",
	})

	disp := dispatcher.New(cfg.UserToQueue, cfg.WorkerConcurrency, b)

	server := api.NewServer(db, disp, logStore, relatedStore, bus, cfg.MaxPerPage, cfg.WorkerUsernames)

	return &Components{DB: db, LogStore: logStore, Related: relatedStore, Bus: bus, Dispatcher: disp, Server: server}, nil
}

// Close releases every resource Build acquired.
func (c *Components) Close() {
	c.Dispatcher.Shutdown()
	if err := c.DB.Close(); err != nil {
		logrus.WithError(err).Warn("error closing database connection")
	}
}

func buildLogStore(cfg *config.Config, provider logs.MetadataProvider) *logs.Store {
	var backend logs.Backend
	switch {
	case cfg.AWSS3BucketName != "":
		b, err := logs.NewS3Backend(context.Background(), cfg.AWSS3BucketName)
		if err != nil {
			logrus.WithError(err).Fatal("failed to construct the S3 request-logs backend")
		}
		backend = b
	case cfg.RequestLogsDir != "":
		backend = logs.NewLocalBackend(cfg.RequestLogsDir)
	}
	ttl := time.Duration(cfg.RequestLogsDaysToLive) * 24 * time.Hour
	return logs.New(backend, provider, ttl)
}

func buildRelatedBundlesStore(cfg *config.Config) *relatedbundles.Store {
	if cfg.RelatedBundlesDir == "" {
		// relatedbundles.New(nil) rather than a nil *Store: Store's
		// methods guard on a nil backend, but a nil *Store would panic
		// on the first field access from builder.RelatedBundlesResolver.
		return relatedbundles.New(nil)
	}
	return relatedbundles.New(relatedbundles.NewLocalBackend(cfg.RelatedBundlesDir))
}

func buildBus(cfg *config.Config) *notify.Bus {
	if len(cfg.MessagingURLs) == 0 {
		return nil
	}
	dialer, err := notify.NewWSDialer(cfg.MessagingURLs, notify.TLSConfig{
		CAFile:   cfg.MessagingCA,
		CertFile: cfg.MessagingCert,
		KeyFile:  cfg.MessagingKey,
	}, cfg.MessagingTimeout)
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct the messaging dialer")
	}
	return notify.New(dialer, cfg.MessagingDurable, cfg.MessagingBuildStateDest, cfg.MessagingBatchStateDest)
}

func buildGitLabClient(cfg *config.Config) *gitcatalog.GitLabClient {
	if len(cfg.GitlabTokensMap) == 0 {
		return nil
	}
	// One GitLabClient per process is enough: spec section 4.3 scopes
	// auth per-repository through ConfigCredentials, not per-client.
	for gitURL, pair := range cfg.GitlabTokensMap {
		return gitcatalog.NewGitLabClient(gitURL, pair[1])
	}
	return nil
}

func buildImageStreamCache(cfg *config.Config) (registryclient.ImageStreamCache, error) {
	if !cfg.UseImagestreamCache {
		return nil, nil
	}
	return imagestreamcache.New(imagestreamcache.Config{
		ClusterURL: cfg.KonfluxClusterURL,
		Token:      cfg.KonfluxClusterToken,
		CACert:     cfg.KonfluxClusterCACert,
		Namespace:  cfg.KonfluxNamespace,
		Name:       "iib-index-db-cache",
	}, cfg.IndexDBCacheRepository)
}

func buildCacheRegion(cfg *config.Config) *cacheregion.Region {
	if cfg.DogpileBackend == "redis" {
		if opts, err := redis.ParseURL(cfg.DogpileArguments["url"]); err == nil {
			return cacheregion.New(cacheregion.NewRedisBackend(redis.NewClient(opts), cfg.DogpileExpiration))
		}
		logrus.Warn("iib_dogpile_backend is redis but iib_dogpile_arguments url could not be parsed; falling back to an in-memory cache region")
	}
	return cacheregion.New(cacheregion.NewMemoryBackend(cfg.DogpileExpiration))
}
