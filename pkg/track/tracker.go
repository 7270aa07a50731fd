package track

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"doctrack/internal/inspect"
	"doctrack/internal/util"
	"doctrack/pkg/backend"
	"doctrack/pkg/domain"
	"doctrack/pkg/session"
	"doctrack/pkg/store"
)

// Config wires a Tracker together. Jobs, Session and Cache are optional:
// missing Jobs/Session are created internally, a nil Cache disables
// persistence.
type Config struct {
	Client  *backend.Client
	Jobs    *store.Store
	Session *session.Session
	Cache   *store.Cache

	PollInterval      time.Duration
	AutoPoll          bool
	MaxUploadBytes    int64
	AllowedExtensions []string

	// OnSessionExpired is signalled when renewal fails terminally, so the
	// UI layer can prompt for a new login.
	OnSessionExpired func()

	Logger *slog.Logger
}

// Tracker is the engine facade: it coordinates uploads, owns the poller and
// exposes the user actions (retry, delete, process, download, refresh).
// All job state flows through the job store; the tracker keeps no private
// copies.
type Tracker struct {
	client   *backend.Client
	jobs     *store.Store
	session  *session.Session
	guard    *session.Guard
	poller   *Poller
	cache    *store.Cache
	autoPoll bool
	maxBytes int64
	allowed  []string
	logger   *slog.Logger

	cacheEvents chan store.Event
	cacheDone   chan struct{}
	cacheUnsub  func()
}

// New constructs a tracker. Call Close when done to release the polling
// loops and the cache writer.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jobs := cfg.Jobs
	if jobs == nil {
		jobs = store.New()
	}
	sess := cfg.Session
	if sess == nil {
		sess = session.New(logger)
	}

	t := &Tracker{
		client:   cfg.Client,
		jobs:     jobs,
		session:  sess,
		cache:    cfg.Cache,
		autoPoll: cfg.AutoPoll,
		maxBytes: cfg.MaxUploadBytes,
		allowed:  cfg.AllowedExtensions,
		logger:   logger,
	}
	t.guard = session.NewGuard(sess, cfg.Client.Refresh, logger)
	t.poller = NewPoller(jobs, t.queryStatus, cfg.PollInterval, logger)

	// Expired credentials make every authenticated call hopeless: halt all
	// polling and tell the UI.
	t.guard.OnTeardown(func() {
		t.poller.StopAll()
		if cfg.OnSessionExpired != nil {
			cfg.OnSessionExpired()
		}
	})

	if t.cache != nil {
		t.cacheEvents = make(chan store.Event, 128)
		t.cacheDone = make(chan struct{})
		t.cacheUnsub = jobs.Subscribe(t.enqueueCacheEvent)
		go t.cacheWriter()
	}
	return t
}

// Jobs exposes the store for UI subscription.
func (t *Tracker) Jobs() *store.Store {
	return t.jobs
}

// Session exposes the credential store.
func (t *Tracker) Session() *session.Session {
	return t.session
}

// Login exchanges credentials for a session.
func (t *Tracker) Login(ctx context.Context, email, password string) error {
	access, refresh, err := t.client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	t.session.SetCredentials(session.Credentials{AccessToken: access, RefreshToken: refresh})
	return nil
}

// Logout invalidates the session and halts all polling. The server call is
// best-effort: local credentials are dropped regardless.
func (t *Tracker) Logout(ctx context.Context) {
	if token := t.session.AccessToken(); token != "" {
		if err := t.client.Logout(ctx, token); err != nil {
			t.logger.Warn("server logout failed", "error", err)
		}
	}
	t.session.Clear()
	t.poller.StopAll()
}

// Upload submits the file at path and bootstraps its tracking: a placeholder
// job appears in the store immediately, is atomically replaced by the server
// record on success, and is removed again if the upload fails.
func (t *Tracker) Upload(ctx context.Context, path string) (domain.Job, error) {
	info, err := inspect.File(path)
	if err != nil {
		return domain.Job{}, err
	}
	if err := inspect.CheckLimits(info, t.maxBytes, t.allowed); err != nil {
		return domain.Job{}, err
	}

	placeholder := domain.Job{
		ID:               util.NewPlaceholderID(),
		Status:           domain.StatusUploading,
		Filename:         info.Filename,
		OriginalFilename: info.Filename,
		SizeBytes:        info.SizeBytes,
		MimeType:         info.MimeType,
		PageCount:        info.PageCount,
		CreatedAt:        time.Now().UTC(),
	}
	t.jobs.Put(placeholder)

	var job domain.Job
	err = t.guard.Call(ctx, func(ctx context.Context, token string) error {
		// Reopened per attempt so the renewal retry re-reads from the start.
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		job, err = t.client.Upload(ctx, token, info.Filename, f)
		return err
	})
	if err != nil {
		// No permanently "uploading" phantoms.
		t.jobs.Remove(placeholder.ID)
		return domain.Job{}, fmt.Errorf("upload %s: %w", info.Filename, err)
	}

	job = mergeServerJob(placeholder, job)
	if !t.jobs.Replace(placeholder.ID, job) {
		// Placeholder vanished mid-upload (user removed it): don't resurrect.
		return job, nil
	}
	if t.cache != nil {
		// Replace emits a single Put for the server record; evict the
		// placeholder's cache entry through the same ordered writer.
		t.enqueueCacheEvent(store.Event{Kind: store.EventRemoved, Job: placeholder})
	}

	if !job.Status.Known() {
		t.logger.Warn("protocol anomaly: upload returned unrecognized status, not polling",
			"job", job.ID, "status", job.Status)
		return job, nil
	}
	if t.autoPoll && !job.Status.Terminal() {
		t.poller.Start(job.ID)
	}
	return job, nil
}

// mergeServerJob fills server-record gaps with what the client already knows
// about the file. The server's fields win when present.
func mergeServerJob(placeholder, job domain.Job) domain.Job {
	if job.Filename == "" {
		job.Filename = placeholder.Filename
	}
	if job.OriginalFilename == "" {
		job.OriginalFilename = placeholder.OriginalFilename
	}
	if job.SizeBytes == 0 {
		job.SizeBytes = placeholder.SizeBytes
	}
	if job.MimeType == "" {
		job.MimeType = placeholder.MimeType
	}
	if job.PageCount == 0 {
		job.PageCount = placeholder.PageCount
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = placeholder.CreatedAt
	}
	return job
}

// Track starts polling id if its stored status warrants it. Used after
// Restore and by UIs that enable polling lazily.
func (t *Tracker) Track(id string) {
	job, ok := t.jobs.Get(id)
	if !ok {
		return
	}
	if !job.Status.Known() || job.Status.Terminal() {
		return
	}
	t.poller.Start(id)
}

// Refresh issues one on-demand status query for id. This is the only update
// path when automatic polling is disabled.
func (t *Tracker) Refresh(ctx context.Context, id string) (domain.Job, error) {
	report, err := t.queryStatus(ctx, id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("refresh %s: %w", id, err)
	}
	applyReport(t.jobs, t.logger, id, report)
	job, _ := t.jobs.Get(id)
	return job, nil
}

// Retry resets a failed job server-side and resumes tracking it. The local
// reset goes through Put: this is the one sanctioned status regression,
// driven by an explicit user action rather than a stale response.
func (t *Tracker) Retry(ctx context.Context, id string) error {
	err := t.guard.Call(ctx, func(ctx context.Context, token string) error {
		return t.client.Retry(ctx, token, id)
	})
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if job, ok := t.jobs.Get(id); ok {
		job.Status = domain.StatusUploaded
		job.Error = ""
		job.ProcessedAt = nil
		t.jobs.Put(job)
	}
	if t.autoPoll {
		t.poller.Start(id)
	}
	return nil
}

// Process triggers (re)processing of an uploaded document.
func (t *Tracker) Process(ctx context.Context, id string) error {
	err := t.guard.Call(ctx, func(ctx context.Context, token string) error {
		return t.client.Process(ctx, token, id)
	})
	if err != nil {
		return fmt.Errorf("process %s: %w", id, err)
	}
	if t.autoPoll {
		t.poller.Start(id)
	}
	return nil
}

// Delete removes the job server-side and from the store; removal stops its
// poller within one interval.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	err := t.guard.Call(ctx, func(ctx context.Context, token string) error {
		return t.client.Delete(ctx, token, id)
	})
	if err != nil && !backend.IsNotFound(err) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	t.jobs.Remove(id)
	return nil
}

// Download fetches the document's content.
func (t *Tracker) Download(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := t.guard.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		data, err = t.client.Download(ctx, token, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	return data, nil
}

// Restore reloads cached job records into the store and resumes polling the
// non-terminal ones. Cached records are reconciled against the server's
// document list when it is reachable: jobs deleted server-side are evicted
// instead of restored, and the server's record wins over the cached one.
// Placeholders from interrupted uploads are skipped either way: their
// uploads are gone, there is nothing to poll.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.cache == nil {
		return nil
	}
	cached, err := t.cache.List(ctx)
	if err != nil {
		return fmt.Errorf("restore job cache: %w", err)
	}

	serverJobs, haveServerList := t.listServerJobs(ctx)

	for _, job := range cached {
		if util.IsPlaceholderID(job.ID) || job.Status == domain.StatusUploading {
			_ = t.cache.Delete(ctx, job.ID)
			continue
		}
		if haveServerList {
			srv, exists := serverJobs[job.ID]
			if !exists {
				t.logger.Info("cached job gone server-side, evicting", "job", job.ID)
				_ = t.cache.Delete(ctx, job.ID)
				continue
			}
			job = mergeServerJob(job, srv)
		}
		t.jobs.Put(job)
		if t.autoPoll && job.Status.Known() && !job.Status.Terminal() {
			t.poller.Start(job.ID)
		}
	}
	return nil
}

// listServerJobs fetches the server's document list for reconciliation.
// Failure degrades Restore to cache-only rather than blocking startup.
func (t *Tracker) listServerJobs(ctx context.Context) (map[string]domain.Job, bool) {
	var listed []domain.Job
	err := t.guard.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		listed, err = t.client.List(ctx, token)
		return err
	})
	if err != nil {
		t.logger.Warn("document list unavailable, restoring from cache only", "error", err)
		return nil, false
	}
	byID := make(map[string]domain.Job, len(listed))
	for _, job := range listed {
		byID[job.ID] = job
	}
	return byID, true
}

// Close stops every polling loop and flushes the cache writer.
func (t *Tracker) Close() {
	t.poller.Close()
	if t.cache != nil {
		t.cacheUnsub()
		close(t.cacheEvents)
		<-t.cacheDone
	}
}

func (t *Tracker) queryStatus(ctx context.Context, id string) (backend.StatusReport, error) {
	var report backend.StatusReport
	err := t.guard.Call(ctx, func(ctx context.Context, token string) error {
		var err error
		report, err = t.client.Status(ctx, token, id)
		return err
	})
	return report, err
}

// enqueueCacheEvent runs under the store lock, so it only hands the event to
// the writer goroutine. A full buffer drops the event; the cache is
// best-effort.
func (t *Tracker) enqueueCacheEvent(ev store.Event) {
	select {
	case t.cacheEvents <- ev:
	default:
		t.logger.Debug("job cache backlog full, dropping event", "job", ev.Job.ID)
	}
}

func (t *Tracker) cacheWriter() {
	defer close(t.cacheDone)
	for ev := range t.cacheEvents {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var err error
		switch ev.Kind {
		case store.EventRemoved:
			err = t.cache.Delete(ctx, ev.Job.ID)
		default:
			err = t.cache.Save(ctx, ev.Job)
		}
		cancel()
		if err != nil {
			t.logger.Debug("job cache write failed", "job", ev.Job.ID, "error", err)
		}
	}
}
