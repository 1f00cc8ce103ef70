package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"telegag/internal/dialog"
	"telegag/internal/feed"
	"telegag/internal/reddit"
	"telegag/internal/subs"
	kit "telegag/internal/transport"
	logx "telegag/pkg/logx"
)

type recordingAdapter struct {
	mu    sync.Mutex
	texts []string
	sends []string // media kinds, in order
}

func (a *recordingAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *recordingAdapter) Stop(context.Context) error                     { return nil }

func (a *recordingAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *recordingAdapter) SendPhoto(context.Context, kit.ChatTarget, string, string) error {
	a.record("photo")
	return nil
}

func (a *recordingAdapter) SendVideo(context.Context, kit.ChatTarget, string, string) error {
	a.record("video")
	return nil
}

func (a *recordingAdapter) SendAnimation(context.Context, kit.ChatTarget, string, string) error {
	a.record("animation")
	return nil
}

func (a *recordingAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *recordingAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *recordingAdapter) record(kind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, kind)
}

func (a *recordingAdapter) lastText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		return ""
	}
	return a.texts[len(a.texts)-1]
}

type fakeScheduler struct {
	mu      sync.Mutex
	records []subs.Record
	live    map[int64]subs.Record
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{live: map[int64]subs.Record{}}
}

func (s *fakeScheduler) Register(rec subs.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, replaced := s.live[rec.ChatID]
	s.live[rec.ChatID] = rec
	s.records = append(s.records, rec)
	return replaced, nil
}

func (s *fakeScheduler) Cancel(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[chatID]
	delete(s.live, chatID)
	return ok
}

func (s *fakeScheduler) Lookup(chatID int64) (subs.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live[chatID]
	return rec, ok
}

type stubSource struct {
	posts []reddit.Post
}

func (s *stubSource) Resolve(_ context.Context, name string) (reddit.Subreddit, error) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "r/")
	if name != "aww" && name != "pics" {
		return reddit.Subreddit{}, reddit.ErrSubredditNotFound
	}
	return reddit.Subreddit{DisplayName: name}, nil
}

func (s *stubSource) Popular(context.Context, int) ([]reddit.Subreddit, error) {
	return []reddit.Subreddit{{DisplayName: "pics"}, {DisplayName: "aww"}}, nil
}

func (s *stubSource) Top(context.Context, string, string, int) ([]reddit.Post, error) {
	return s.posts, nil
}

type countingDeliverer struct {
	mu    sync.Mutex
	count int
}

func (d *countingDeliverer) Deliver(context.Context, int64, reddit.Post) (feed.MediaKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	return feed.KindStaticImage, nil
}

func newTestRouter(t *testing.T) (*Router, *recordingAdapter, *fakeScheduler) {
	t.Helper()
	ad := &recordingAdapter{}
	sched := newFakeScheduler()
	src := &stubSource{posts: []reddit.Post{{ID: "p1", URL: "https://i.redd.it/a.jpg"}}}
	r := NewRouter(RouterDeps{
		Adapter:   ad,
		Scheduler: sched,
		Source:    src,
		Dialogs:   dialog.NewManager(sched, logx.Nop()),
		Deliverer: &countingDeliverer{},
		Period:    "day",
	}, logx.Nop())
	return r, ad, sched
}

func msg(chatID int64, text string) *kit.Message {
	return &kit.Message{ChatID: chatID, Text: text}
}

func TestCmdSubRegisters(t *testing.T) {
	t.Parallel()
	r, ad, sched := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(5, "/sub aww 30 2"))

	rec, ok := sched.Lookup(5)
	if !ok {
		t.Fatal("no record registered")
	}
	want := subs.Record{ChatID: 5, Subreddit: "aww", Limit: 2, Interval: 30 * time.Second}
	if rec != want {
		t.Fatalf("registered %+v, want %+v", rec, want)
	}
	if !strings.Contains(ad.lastText(), "Timer successfully set!") {
		t.Fatalf("reply = %q", ad.lastText())
	}
}

func TestCmdSubErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "no args", text: "/sub", want: msgUsageSub},
		{name: "too many args", text: "/sub aww 30 2 9", want: msgUsageSub},
		{name: "unknown subreddit", text: "/sub nosuchsub 30", want: msgUnknownSub},
		{name: "bad interval", text: "/sub aww abc", want: msgBadInterval},
		{name: "zero interval", text: "/sub aww 0", want: msgBadInterval},
		{name: "bad limit", text: "/sub aww 30 zero", want: msgBadLimit},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r, ad, sched := newTestRouter(t)
			r.handleMessage(context.Background(), msg(5, tt.text))
			if got := ad.lastText(); got != tt.want {
				t.Fatalf("reply = %q, want %q", got, tt.want)
			}
			if _, ok := sched.Lookup(5); ok {
				t.Fatal("record registered despite error")
			}
		})
	}
}

func TestCmdSubReplace(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(5, "/sub aww 30"))
	r.handleMessage(ctx, msg(5, "/sub pics 60"))

	if !strings.Contains(ad.lastText(), "Previous timer replaced!") {
		t.Fatalf("reply = %q", ad.lastText())
	}
}

func TestCmdUnset(t *testing.T) {
	t.Parallel()
	r, ad, sched := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(5, "/unset"))
	if got := ad.lastText(); got != msgNoSubscription {
		t.Fatalf("reply = %q, want %q", got, msgNoSubscription)
	}

	sched.Register(subs.Record{ChatID: 5, Subreddit: "aww", Interval: time.Hour})
	r.handleMessage(ctx, msg(5, "/unset"))
	if got := ad.lastText(); got != msgUnsubscribed {
		t.Fatalf("reply = %q, want %q", got, msgUnsubscribed)
	}
	if _, ok := sched.Lookup(5); ok {
		t.Fatal("record still live after /unset")
	}
}

func TestSubscribeDialogOverRouter(t *testing.T) {
	t.Parallel()
	r, ad, sched := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(9, "/subscribe"))
	r.handleMessage(ctx, msg(9, "aww"))
	r.handleMessage(ctx, msg(9, "3"))
	r.handleMessage(ctx, msg(9, "30"))

	rec, ok := sched.Lookup(9)
	if !ok {
		t.Fatal("dialog did not register")
	}
	want := subs.Record{ChatID: 9, Subreddit: "aww", Limit: 3, Interval: 30 * time.Second}
	if rec != want {
		t.Fatalf("registered %+v, want %+v", rec, want)
	}
	if !strings.Contains(ad.lastText(), "Timer successfully set!") {
		t.Fatalf("reply = %q", ad.lastText())
	}

	// A message after completion is plain traffic again.
	r.handleMessage(ctx, msg(9, "hello"))
	if got := ad.lastText(); got != msgIdleHint {
		t.Fatalf("post-dialog reply = %q, want idle hint", got)
	}
}

func TestCancelCommand(t *testing.T) {
	t.Parallel()
	r, ad, sched := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(9, "/cancel"))
	if got := ad.lastText(); got != msgNothingToCancel {
		t.Fatalf("reply = %q, want %q", got, msgNothingToCancel)
	}

	r.handleMessage(ctx, msg(9, "/subscribe"))
	r.handleMessage(ctx, msg(9, "/cancel"))
	if got := ad.lastText(); got != msgDialogCancelled {
		t.Fatalf("reply = %q, want %q", got, msgDialogCancelled)
	}
	if _, ok := sched.Lookup(9); ok {
		t.Fatal("cancelled dialog registered something")
	}
}

func TestMenuDialogOverCallbacks(t *testing.T) {
	t.Parallel()
	r, ad, sched := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg(4, "/menu"))
	for _, payload := range []string{"pics", "5", "900"} {
		r.handleCallback(ctx, &kit.Callback{ID: "cb", ChatID: 4, Data: "dlg:x:" + payload})
	}

	rec, ok := sched.Lookup(4)
	if !ok {
		t.Fatal("menu dialog did not register")
	}
	want := subs.Record{ChatID: 4, Subreddit: "pics", Limit: 5, Interval: 15 * time.Minute}
	if rec != want {
		t.Fatalf("registered %+v, want %+v", rec, want)
	}
	if !strings.Contains(ad.lastText(), "Timer successfully set!") {
		t.Fatalf("reply = %q", ad.lastText())
	}
}

func TestCmdShowDeliversImmediately(t *testing.T) {
	t.Parallel()
	ad := &recordingAdapter{}
	sched := newFakeScheduler()
	sink := &countingDeliverer{}
	src := &stubSource{posts: []reddit.Post{{ID: "p1"}, {ID: "p2"}}}
	r := NewRouter(RouterDeps{
		Adapter:   ad,
		Scheduler: sched,
		Source:    src,
		Dialogs:   dialog.NewManager(sched, logx.Nop()),
		Deliverer: sink,
		Period:    "day",
	}, logx.Nop())

	r.handleMessage(context.Background(), msg(5, "/show aww 2"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.count != 2 {
		t.Fatalf("deliveries = %d, want 2", sink.count)
	}
	if _, ok := sched.Lookup(5); ok {
		t.Fatal("/show must not register a job")
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	r.handleMessage(context.Background(), msg(5, "/history"))
	if got := ad.lastText(); got != msgNoHistory {
		t.Fatalf("reply = %q, want %q", got, msgNoHistory)
	}
}

type orderRecordingDialogs struct {
	mu     sync.Mutex
	inputs map[int64][]string
}

func (d *orderRecordingDialogs) Start(context.Context, int64, dialog.Flow) (dialog.Reply, error) {
	return dialog.Reply{}, nil
}

func (d *orderRecordingDialogs) Advance(_ context.Context, chatID int64, input string) (dialog.Reply, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs[chatID] = append(d.inputs[chatID], input)
	return dialog.Reply{Text: "ok"}, true
}

func (d *orderRecordingDialogs) Cancel(int64) bool { return false }

func TestDispatchLoopKeepsPerChatOrder(t *testing.T) {
	t.Parallel()
	rec := &orderRecordingDialogs{inputs: map[int64][]string{}}
	r := NewRouter(RouterDeps{
		Adapter:   &recordingAdapter{},
		Scheduler: newFakeScheduler(),
		Source:    &stubSource{},
		Dialogs:   rec,
		Deliverer: &countingDeliverer{},
		Period:    "day",
	}, logx.Nop())

	const chats = 500
	updates := make(chan kit.Update, 2*chats)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(context.Background(), updates) }()

	for chat := int64(1); chat <= chats; chat++ {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: msg(chat, "first")}
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: msg(chat, "second")}
	}
	close(updates)
	if err := <-done; err != nil {
		t.Fatalf("DispatchLoop error: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for chat := int64(1); chat <= chats; chat++ {
		got := rec.inputs[chat]
		if len(got) != 2 || got[0] != "first" || got[1] != "second" {
			t.Fatalf("chat %d saw %v, want [first second]", chat, got)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		cmd  string
		args int
	}{
		{in: "/sub aww 30", cmd: "/sub", args: 2},
		{in: "/Sub@MyBot aww", cmd: "/sub", args: 1},
		{in: "/help", cmd: "/help", args: 0},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.cmd || len(args) != tt.args {
			t.Fatalf("splitCommand(%q) = (%q, %d args)", tt.in, cmd, len(args))
		}
	}
}
