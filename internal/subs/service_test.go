package subs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telegag/internal/feed"
	"telegag/internal/reddit"
	logx "telegag/pkg/logx"
)

type fetchRecorder struct {
	mu    sync.Mutex
	calls []string
	posts []reddit.Post
	err   error
}

func (f *fetchRecorder) fetch(_ context.Context, subreddit, _ string, _ int) ([]reddit.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, subreddit)
	return f.posts, f.err
}

func (f *fetchRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type deliveryRecorder struct {
	mu    sync.Mutex
	calls []delivered
	err   error
}

type delivered struct {
	chatID int64
	postID string
}

func (d *deliveryRecorder) Deliver(_ context.Context, chatID int64, p reddit.Post) (feed.MediaKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, delivered{chatID: chatID, postID: p.ID})
	return feed.KindStaticImage, d.err
}

func (d *deliveryRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *deliveryRecorder) snapshot() []delivered {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivered(nil), d.calls...)
}

func newTestService(t *testing.T, fetch FetchFunc, sink Deliverer) *Service {
	t.Helper()
	s := New(Config{Period: "day", FirstDelay: 10 * time.Millisecond}, fetch, sink, nil, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t, (&fetchRecorder{}).fetch, &deliveryRecorder{})

	tests := []struct {
		name string
		rec  Record
		err  error
	}{
		{name: "zero interval", rec: Record{ChatID: 1, Subreddit: "aww", Interval: 0}, err: ErrInvalidInterval},
		{name: "negative interval", rec: Record{ChatID: 1, Subreddit: "aww", Interval: -time.Second}, err: ErrInvalidInterval},
		{name: "negative limit", rec: Record{ChatID: 1, Subreddit: "aww", Interval: time.Hour, Limit: -1}, err: ErrInvalidLimit},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Register(tt.rec); !errors.Is(err, tt.err) {
				t.Fatalf("Register error = %v, want %v", err, tt.err)
			}
			if _, ok := s.Lookup(tt.rec.ChatID); ok {
				t.Fatal("rejected record must not be registered")
			}
		})
	}
}

func TestRegisterZeroLimitDefaultsToOne(t *testing.T) {
	t.Parallel()
	s := newTestService(t, (&fetchRecorder{}).fetch, &deliveryRecorder{})

	if _, err := s.Register(Record{ChatID: 9, Subreddit: "aww", Interval: time.Hour}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	rec, ok := s.Lookup(9)
	if !ok {
		t.Fatal("expected a live record")
	}
	if rec.Limit != 1 {
		t.Fatalf("Limit = %d, want 1", rec.Limit)
	}
}

func TestRegisterBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, (&fetchRecorder{}).fetch, &deliveryRecorder{}, nil, logx.Nop())
	if _, err := s.Register(Record{ChatID: 1, Subreddit: "aww", Interval: time.Hour}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Register error = %v, want %v", err, ErrNotStarted)
	}
}

func TestTickDeliversBatchInOrder(t *testing.T) {
	t.Parallel()
	fetch := &fetchRecorder{posts: []reddit.Post{{ID: "p1"}, {ID: "p2"}}}
	sink := &deliveryRecorder{}
	s := newTestService(t, fetch.fetch, sink)

	if _, err := s.Register(Record{ChatID: 5, Subreddit: "aww", Limit: 2, Interval: 30 * time.Millisecond}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return sink.count() >= 2 }) {
		t.Fatalf("deliveries = %d, want >= 2", sink.count())
	}
	got := sink.snapshot()[:2]
	if got[0] != (delivered{chatID: 5, postID: "p1"}) || got[1] != (delivered{chatID: 5, postID: "p2"}) {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestCancelBeforeFirstTick(t *testing.T) {
	t.Parallel()
	fetch := &fetchRecorder{posts: []reddit.Post{{ID: "p1"}}}
	sink := &deliveryRecorder{}
	s := New(Config{Period: "day", FirstDelay: 80 * time.Millisecond}, fetch.fetch, sink, nil, logx.Nop())
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	if _, err := s.Register(Record{ChatID: 5, Subreddit: "aww", Interval: 30 * time.Millisecond}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if !s.Cancel(5) {
		t.Fatal("Cancel = false, want true")
	}
	if _, ok := s.Lookup(5); ok {
		t.Fatal("record still live after cancel")
	}
	if s.Cancel(5) {
		t.Fatal("second Cancel = true, want false")
	}

	time.Sleep(200 * time.Millisecond)
	if n := sink.count(); n != 0 {
		t.Fatalf("deliveries after cancel = %d, want 0", n)
	}
}

func TestRegisterReplacesExistingJob(t *testing.T) {
	t.Parallel()
	fetch := &fetchRecorder{posts: []reddit.Post{{ID: "p1"}}}
	sink := &deliveryRecorder{}
	s := newTestService(t, fetch.fetch, sink)

	replaced, err := s.Register(Record{ChatID: 5, Subreddit: "old", Interval: 25 * time.Millisecond})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if replaced {
		t.Fatal("first Register reported replaced")
	}

	replaced, err = s.Register(Record{ChatID: 5, Subreddit: "new", Interval: 25 * time.Millisecond})
	if err != nil {
		t.Fatalf("second Register error: %v", err)
	}
	if !replaced {
		t.Fatal("second Register did not report replaced")
	}

	if !waitFor(t, 2*time.Second, func() bool { return fetch.count() >= 2 }) {
		t.Fatalf("fetch calls = %d, want >= 2", fetch.count())
	}
	fetch.mu.Lock()
	defer fetch.mu.Unlock()
	for _, sub := range fetch.calls {
		if sub != "new" {
			t.Fatalf("tick fetched %q after replacement", sub)
		}
	}
}

func TestFetchFailureKeepsJobScheduled(t *testing.T) {
	t.Parallel()
	fetch := &fetchRecorder{err: errors.New("api down")}
	sink := &deliveryRecorder{}
	s := newTestService(t, fetch.fetch, sink)

	if _, err := s.Register(Record{ChatID: 5, Subreddit: "aww", Interval: 25 * time.Millisecond}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return fetch.count() >= 3 }) {
		t.Fatalf("fetch calls = %d, want >= 3 (job must keep firing)", fetch.count())
	}
	if n := sink.count(); n != 0 {
		t.Fatalf("deliveries = %d, want 0", n)
	}
	if _, ok := s.Lookup(5); !ok {
		t.Fatal("job was unscheduled after fetch failure")
	}
}

func TestDeliveryFailureContinuesBatch(t *testing.T) {
	t.Parallel()
	fetch := &fetchRecorder{posts: []reddit.Post{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}}
	sink := &deliveryRecorder{err: errors.New("send failed")}
	s := newTestService(t, fetch.fetch, sink)

	if _, err := s.Register(Record{ChatID: 5, Subreddit: "aww", Limit: 3, Interval: time.Hour}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return sink.count() >= 3 }) {
		t.Fatalf("deliveries = %d, want 3 (batch must continue past failures)", sink.count())
	}
}
