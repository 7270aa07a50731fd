package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"doctrack/internal/config"
	"doctrack/internal/util"
	"doctrack/pkg/backend"
	"doctrack/pkg/domain"
	"doctrack/pkg/store"
	"doctrack/pkg/track"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: doctrack [-config config.yaml] file [file...]")
		os.Exit(2)
	}

	// Failures inside run return as errors so the deferred teardown
	// (logout, tracker close, cache close) always executes.
	if err := run(cfg, logger, files); err != nil {
		logger.Error("doctrack failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, files []string) error {
	email := os.Getenv("DOCTRACK_EMAIL")
	password := os.Getenv("DOCTRACK_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("DOCTRACK_EMAIL and DOCTRACK_PASSWORD are required")
	}

	var cache *store.Cache
	if cfg.RedisAddr != "" {
		var err error
		cache, err = store.NewCache(store.CacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			return fmt.Errorf("init job cache: %w", err)
		}
		defer cache.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := track.New(track.Config{
		Client:            backend.NewClient(cfg.BaseURL, cfg.HTTPTimeout),
		Cache:             cache,
		PollInterval:      cfg.PollInterval,
		AutoPoll:          cfg.AutoPoll,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		OnSessionExpired:  func() { logger.Error("session expired, re-login required"); stop() },
		Logger:            logger,
	})
	defer tracker.Close()

	if err := tracker.Login(ctx, email, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer tracker.Logout(context.Background())

	if err := tracker.Restore(ctx); err != nil {
		logger.Warn("could not restore cached jobs", "error", err)
	}

	// Terminal-status notifications, one channel entry per finished job.
	finished := make(chan domain.Job, len(files)+tracker.Jobs().Len())
	unsub := tracker.Jobs().Subscribe(func(ev store.Event) {
		if ev.Kind != store.EventRemoved && ev.Job.Status.Terminal() {
			select {
			case finished <- ev.Job:
			default:
			}
		}
	})
	defer unsub()

	g, uploadCtx := errgroup.WithContext(ctx)
	for _, path := range files {
		path := path
		g.Go(func() error {
			job, err := tracker.Upload(uploadCtx, path)
			if err != nil {
				return err
			}
			logger.Info("upload accepted", "job", job.ID, "file", job.Filename, "status", job.Status)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	pending := 0
	for _, job := range tracker.Jobs().List() {
		if job.Status.Known() && !job.Status.Terminal() {
			pending++
		}
	}
	for pending > 0 {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping trackers")
			return nil
		case job := <-finished:
			pending--
			if job.Status == domain.StatusFailed {
				logger.Warn("job failed", "job", job.ID, "file", job.Filename, "error", job.Error)
			} else {
				logger.Info("job completed", "job", job.ID, "file", job.Filename)
			}
		}
	}
	logger.Info("all jobs reached a terminal state")
	return nil
}
