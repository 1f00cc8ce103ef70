package subs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"telegag/internal/storage"
	logx "telegag/pkg/logx"
)

type Config struct {
	// Period is the ranking window for "top" fetches ("hour", "day", ...).
	Period string
	// FirstDelay is the warm-up before a new subscription's first tick.
	// Zero means DefaultFirstDelay.
	FirstDelay time.Duration
}

// Service owns the table of live subscriptions, keyed by destination.
// Nothing outside this package mutates the table.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	fetch FetchFunc
	sink  Deliverer
	store storage.Store // may be nil

	c    *cron.Cron
	jobs map[string]*job

	// runCtx scopes tick work; set on Start, cancelled on Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
}

type job struct {
	rec   Record
	entry cron.EntryID
}

func New(cfg Config, fetch FetchFunc, sink Deliverer, store storage.Store, log logx.Logger) *Service {
	if cfg.Period == "" {
		cfg.Period = "day"
	}
	if cfg.FirstDelay <= 0 {
		cfg.FirstDelay = DefaultFirstDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		cfg:   cfg,
		fetch: fetch,
		sink:  sink,
		store: store,
		jobs:  map[string]*job{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)

	cl := cronLogger{log: s.log}
	// SkipIfStillRunning guarantees a single job's ticks never overlap;
	// distinct jobs still run concurrently (one goroutine per entry).
	s.c = cron.New(cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))
	s.c.Start()
	s.log.Info("scheduler started", logx.String("period", s.cfg.Period), logx.Duration("first_delay", s.cfg.FirstDelay))
}

// Stop cancels tick work and waits (bounded by ctx) for in-flight ticks.
// All jobs are discarded; subscriptions do not survive a restart.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.jobs = map[string]*job{}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		done := c.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped")
}

// Register installs a recurring subscription for rec's destination.
//
// A zero Limit defaults to one item per tick; a negative Limit and a
// non-positive Interval are rejected without mutating the table. If a live
// job already exists under the same destination it is cancelled first, so
// two jobs for one chat can never tick concurrently. Reports whether an
// existing job was replaced.
func (s *Service) Register(rec Record) (replaced bool, err error) {
	if rec.Interval <= 0 {
		return false, ErrInvalidInterval
	}
	if rec.Limit < 0 {
		return false, ErrInvalidLimit
	}
	if rec.Limit == 0 {
		rec.Limit = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return false, ErrNotStarted
	}

	name := rec.Name()
	if old, ok := s.jobs[name]; ok {
		s.c.Remove(old.entry)
		delete(s.jobs, name)
		replaced = true
	}

	j := &job{rec: rec}
	sched := warmupSchedule{notBefore: time.Now().Add(s.cfg.FirstDelay), every: rec.Interval}
	j.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.runTick(rec) }))
	s.jobs[name] = j

	s.log.Info("subscription registered",
		logx.String("job", name),
		logx.String("subreddit", rec.Subreddit),
		logx.Duration("interval", rec.Interval),
		logx.Int("limit", rec.Limit),
		logx.Bool("replaced", replaced),
	)
	return replaced, nil
}

// Cancel removes the destination's job if one exists. It is idempotent and
// never interrupts an in-flight tick; a removed job is simply never re-armed.
func (s *Service) Cancel(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := Record{ChatID: chatID}.Name()
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(j.entry)
	}
	delete(s.jobs, name)
	s.log.Info("subscription cancelled", logx.String("job", name))
	return true
}

// Lookup returns the live record for a destination, if any.
func (s *Service) Lookup(chatID int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[Record{ChatID: chatID}.Name()]
	if !ok {
		return Record{}, false
	}
	return j.rec, true
}

// Snapshot lists live subscriptions for operational output.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{Name: name, Record: j.rec}
		if s.c != nil {
			info.NextTick = s.c.Entry(j.entry).Next
		}
		out = append(out, info)
	}
	return out
}

// runTick is one firing of a job: fetch, then dispatch every returned item
// in order. Fetch and delivery failures are logged and never unschedule the
// job; the next regular tick is the only retry.
func (s *Service) runTick(rec Record) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	tickID := uuid.NewString()
	log := s.log.With(
		logx.String("tick", tickID),
		logx.String("job", rec.Name()),
		logx.String("subreddit", rec.Subreddit),
	)

	posts, err := s.fetch(ctx, rec.Subreddit, s.cfg.Period, rec.Limit)
	if err != nil {
		log.Warn("fetch failed; keeping job scheduled", logx.Err(err))
		return
	}

	for _, p := range posts {
		kind, derr := s.sink.Deliver(ctx, rec.ChatID, p)
		s.recordDelivery(ctx, storage.DeliveryEntry{
			TickID:    tickID,
			ChatID:    rec.ChatID,
			Subreddit: rec.Subreddit,
			PostID:    p.ID,
			Kind:      string(kind),
			OK:        derr == nil,
			Error:     errString(derr),
		})
		if derr != nil {
			log.Warn("delivery failed; continuing batch", logx.String("post", p.ID), logx.Err(derr))
		}
	}
}

func (s *Service) recordDelivery(ctx context.Context, e storage.DeliveryEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendDelivery(ctx, e); err != nil {
		s.log.Debug("delivery log write failed", logx.Err(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
