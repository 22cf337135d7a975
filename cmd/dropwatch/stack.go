package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/config"
	"github.com/dharsanguruparan/dropwatch/internal/database"
	"github.com/dharsanguruparan/dropwatch/internal/identity"
	"github.com/dharsanguruparan/dropwatch/internal/jobs"
	"github.com/dharsanguruparan/dropwatch/internal/locate"
	"github.com/dharsanguruparan/dropwatch/internal/poll"
	"github.com/dharsanguruparan/dropwatch/internal/s3storage"
	"github.com/dharsanguruparan/dropwatch/internal/upload"
)

// stack holds the collaborators shared by the commands.
type stack struct {
	cfg     *config.Config
	log     *zap.Logger
	anonID  string
	jobs    jobs.Reader
	rest    *jobs.RESTStore
	closers []func()
}

func newStack(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stack, error) {
	anonID, err := identity.NewStore(cfg.IdentityPath).Load()
	if err != nil {
		return nil, err
	}
	s := &stack{cfg: cfg, log: log, anonID: anonID}

	switch cfg.JobsBackend {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		if err := database.Ping(ctx, pool, 5*time.Second); err != nil {
			s.Close()
			return nil, err
		}
		s.jobs = jobs.NewPostgresStore(pool, cfg.JobsResource)
	default:
		s.rest = jobs.NewRESTStore(jobs.RESTOptions{
			BaseURL:         cfg.RESTBaseURL(),
			APIKey:          cfg.APIKey,
			JobsResource:    cfg.JobsResource,
			CreditsResource: cfg.CreditsResource,
			Timeout:         cfg.RequestTimeout,
			Logger:          log.Named("jobs"),
		})
		s.jobs = s.rest
	}
	log.Debug("stack ready", zap.String("anon_id", anonID), zap.String("jobs_backend", cfg.JobsBackend))
	return s, nil
}

func (s *stack) presigner(ctx context.Context) (upload.Presigner, error) {
	if s.cfg.PresignMode == "minio" {
		store, err := s3storage.New(s.cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return upload.NewMinioPresigner(store), nil
	}
	return upload.NewHTTPPresigner(s.cfg.PresignEndpoint, s.cfg.APIKey, s.cfg.RequestTimeout, s.log.Named("presign")), nil
}

func (s *stack) uploader(ctx context.Context) (*upload.Client, error) {
	p, err := s.presigner(ctx)
	if err != nil {
		return nil, fmt.Errorf("presigner: %w", err)
	}
	return upload.NewClient(p, upload.Options{
		AnonID:   s.anonID,
		WidgetID: s.cfg.WidgetID,
		Timeout:  s.cfg.RequestTimeout,
		Logger:   s.log.Named("upload"),
	}), nil
}

func (s *stack) locator() *locate.Locator {
	t := s.cfg.Timing
	return locate.New(s.jobs,
		locate.WithLimit(t.LocateLimit),
		locate.WithMatchWindow(t.MatchWindow),
		locate.WithFallbackLead(t.FallbackLead),
		locate.WithLogger(s.log.Named("locate")),
	)
}

func (s *stack) poller() *poll.Poller {
	t := s.cfg.Timing
	return poll.New(s.jobs, poll.Options{
		Interval:    t.PollInterval,
		MaxAttempts: t.MaxPollAttempts,
		MaxFailures: t.MaxPollFailures,
		Logger:      s.log.Named("poll"),
	})
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
