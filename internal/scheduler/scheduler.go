// Package scheduler manages per-incident recurring jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies a recurring job type.
type Kind string

// Job kinds known to the orchestrator.
const (
	// KindCommsReminder nags the incident channel to post status updates.
	KindCommsReminder Kind = "comms_reminder"
	// KindRoleWatcher reports roles that nobody has claimed yet.
	KindRoleWatcher Kind = "role_watcher"
)

// Sentinel errors returned by the scheduler.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrNoHandler   = errors.New("no handler registered for job kind")
)

// Handler is invoked every time a job fires, with the slug of the
// incident the job belongs to.
type Handler func(ctx context.Context, slug string)

// JobID builds the canonical job identifier for an incident and kind.
func JobID(slug string, kind Kind) string {
	return fmt.Sprintf("%s_%s", slug, kind)
}

// Job describes a scheduled recurring job.
type Job struct {
	ID       string
	Slug     string
	Kind     Kind
	Interval time.Duration
	NextRun  time.Time
}

type entry struct {
	cronID   cron.EntryID
	slug     string
	kind     Kind
	interval time.Duration
}

// Scheduler runs per-incident recurring jobs on top of a single cron
// engine. Handlers are registered per kind before Start; jobs are added
// and removed per incident as its lifecycle progresses.
type Scheduler struct {
	logger *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	jobs     map[string]entry
	handlers map[Kind]Handler
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger,
		cron:     cron.New(),
		jobs:     make(map[string]entry),
		handlers: make(map[Kind]Handler),
	}
}

// RegisterHandler binds a handler to a job kind. Must be called before
// Start; later registrations for the same kind replace the handler.
func (s *Scheduler) RegisterHandler(kind Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Start begins firing scheduled jobs. The context is passed to every
// handler invocation and is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop cancels handler contexts, stops firing and waits for running
// handlers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Schedule arms a recurring job for an incident. An existing job with
// the same id is replaced, so scheduling is idempotent.
func (s *Scheduler) Schedule(slug string, kind Kind, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	id := JobID(slug, kind)
	if old, ok := s.jobs[id]; ok {
		s.cron.Remove(old.cronID)
	}

	cronID := s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.fire(slug, kind)
	}))
	s.jobs[id] = entry{cronID: cronID, slug: slug, kind: kind, interval: every}

	s.logger.Info("job scheduled", "job_id", id, "interval", every)
	return nil
}

// Reschedule changes the interval of an existing job. Unlike Schedule it
// fails when the job is absent, so a silenced job stays silenced.
func (s *Scheduler) Reschedule(slug string, kind Kind, every time.Duration) error {
	s.mu.Lock()
	id := JobID(slug, kind)
	old, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s.cron.Remove(old.cronID)
	cronID := s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.fire(slug, kind)
	}))
	s.jobs[id] = entry{cronID: cronID, slug: slug, kind: kind, interval: every}
	s.mu.Unlock()

	s.logger.Info("job rescheduled", "job_id", id, "interval", every)
	return nil
}

// Cancel removes a job permanently.
func (s *Scheduler) Cancel(slug string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := JobID(slug, kind)
	e, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s.cron.Remove(e.cronID)
	delete(s.jobs, id)

	s.logger.Info("job cancelled", "job_id", id)
	return nil
}

// CancelAll removes every job of an incident, ignoring missing ones.
func (s *Scheduler) CancelAll(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.jobs {
		if e.slug == slug {
			s.cron.Remove(e.cronID)
			delete(s.jobs, id)
			s.logger.Info("job cancelled", "job_id", id)
		}
	}
}

// Get returns a job by incident and kind.
func (s *Scheduler) Get(slug string, kind Kind) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[JobID(slug, kind)]
	if !ok {
		return Job{}, false
	}
	return s.job(e), true
}

// List returns all scheduled jobs ordered by id.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, s.job(e))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

func (s *Scheduler) job(e entry) Job {
	return Job{
		ID:       JobID(e.slug, e.kind),
		Slug:     e.slug,
		Kind:     e.kind,
		Interval: e.interval,
		NextRun:  s.cron.Entry(e.cronID).Next,
	}
}

func (s *Scheduler) fire(slug string, kind Kind) {
	s.mu.Lock()
	h := s.handlers[kind]
	ctx := s.ctx
	s.mu.Unlock()

	if h == nil || ctx == nil || ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job handler panicked",
				"job_id", JobID(slug, kind),
				"panic", r,
			)
		}
	}()

	h(ctx, slug)
}
