package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegag/internal/dialog"
	"telegag/internal/reddit"
	"telegag/internal/storage"
	"telegag/internal/subs"
	kit "telegag/internal/transport"
	logx "telegag/pkg/logx"
	"telegag/pkg/tgui"
)

const helpText = `I deliver the top posts of a subreddit on a schedule.

/sub <subreddit> <interval_sec> [limit] - subscribe in one line
/subscribe - subscribe step by step
/menu - subscribe with buttons
/show <subreddit> [limit] - fetch top posts right now
/unset - stop your subscription
/cancel - abort an in-progress setup
/history [n] - your recent deliveries
/help - this message

One subscription per chat; a new one replaces the old.`

const (
	msgUsageSub        = "Usage: /sub <subreddit> <interval_sec> [limit]"
	msgUsageShow       = "Usage: /show <subreddit> [limit]"
	msgUnknownSub      = "I don't know that subreddit."
	msgBadInterval     = "Interval must be a positive number of seconds."
	msgBadLimit        = "Limit must be a positive number."
	msgUnsubscribed    = "You are successfully unsubscribed!"
	msgNoSubscription  = "You have no active subscriptions."
	msgDialogCancelled = "Cancelled."
	msgNothingToCancel = "Nothing to cancel."
	msgNoHistory       = "History is not enabled."
	msgEmptyHistory    = "Nothing delivered yet."
	msgInternalError   = "Something went wrong, please try again later."
	msgIdleHint        = "Send /subscribe to set up a delivery, or /help for commands."
)

// scheduler is the slice of subs.Service the router needs.
type scheduler interface {
	Register(rec subs.Record) (replaced bool, err error)
	Cancel(chatID int64) bool
	Lookup(chatID int64) (subs.Record, bool)
}

// contentSource is the slice of reddit.Client the router needs.
type contentSource interface {
	Resolve(ctx context.Context, name string) (reddit.Subreddit, error)
	Popular(ctx context.Context, limit int) ([]reddit.Subreddit, error)
	Top(ctx context.Context, subreddit, period string, limit int) ([]reddit.Post, error)
}

// dialogManager is the slice of dialog.Manager the router needs.
type dialogManager interface {
	Start(ctx context.Context, chatID int64, flow dialog.Flow) (dialog.Reply, error)
	Advance(ctx context.Context, chatID int64, input string) (dialog.Reply, bool)
	Cancel(chatID int64) bool
}

type RouterDeps struct {
	Adapter   kit.Adapter
	Scheduler scheduler
	Source    contentSource
	Dialogs   dialogManager
	Deliverer subs.Deliverer
	Store     storage.Store // may be nil
	Period    string
}

// Router turns incoming transport updates into command handling, dialog
// events and replies.
type Router struct {
	ad      kit.Adapter
	sched   scheduler
	source  contentSource
	dialogs dialogManager
	sink    subs.Deliverer
	store   storage.Store
	period  string
	log     logx.Logger
}

func NewRouter(deps RouterDeps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		ad:      deps.Adapter,
		sched:   deps.Scheduler,
		source:  deps.Source,
		dialogs: deps.Dialogs,
		sink:    deps.Deliverer,
		store:   deps.Store,
		period:  deps.Period,
		log:     log,
	}
}

const dispatchShards = 16

// DispatchLoop consumes updates until ctx is canceled or the channel closes.
// Updates are fanned out to a fixed set of workers sharded by chat id, so
// two events from the same chat are always handled in arrival order (a later
// message observes the dialog state the earlier one left behind) while a
// slow fetch in one chat never blocks unrelated chats on other shards.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	var wg sync.WaitGroup
	shards := make([]chan kit.Update, dispatchShards)
	for i := range shards {
		shards[i] = make(chan kit.Update, 32)
		wg.Add(1)
		go func(ch <-chan kit.Update) {
			defer wg.Done()
			for up := range ch {
				r.handle(ctx, up)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			shard := shards[int(uint64(updateChatID(up))%dispatchShards)]
			select {
			case shard <- up:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func updateChatID(up kit.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.ChatID
	case up.Callback != nil:
		return up.Callback.ChatID
	default:
		return 0
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("update handler panicked", logx.Any("panic", rec))
		}
	}()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	if !strings.HasPrefix(text, "/") {
		if reply, ok := r.dialogs.Advance(ctx, m.ChatID, text); ok {
			r.reply(ctx, m.ChatID, reply)
			return
		}
		r.replyText(ctx, m.ChatID, msgIdleHint)
		return
	}

	cmd, args := splitCommand(text)
	r.log.Debug("command received",
		logx.Int64("chat", m.ChatID),
		logx.String("cmd", cmd),
		logx.Int("args", len(args)),
	)

	switch cmd {
	case "/start", "/help":
		r.replyText(ctx, m.ChatID, helpText)
	case "/sub":
		r.cmdSub(ctx, m.ChatID, args)
	case "/subscribe", "/set":
		r.startDialog(ctx, m.ChatID, dialog.TextFlow(r.source))
	case "/menu":
		r.startDialog(ctx, m.ChatID, dialog.MenuFlow(r.source))
	case "/show":
		r.cmdShow(ctx, m.ChatID, args)
	case "/unset":
		if r.sched.Cancel(m.ChatID) {
			r.replyText(ctx, m.ChatID, msgUnsubscribed)
		} else {
			r.replyText(ctx, m.ChatID, msgNoSubscription)
		}
	case "/cancel":
		if r.dialogs.Cancel(m.ChatID) {
			r.replyText(ctx, m.ChatID, msgDialogCancelled)
		} else {
			r.replyText(ctx, m.ChatID, msgNothingToCancel)
		}
	case "/history":
		r.cmdHistory(ctx, m.ChatID, args)
	default:
		r.replyText(ctx, m.ChatID, "Unknown command. "+msgIdleHint)
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	scope, _, payload := tgui.ParseData(cb.Data)
	if err := r.ad.AnswerCallback(ctx, cb.ID, ""); err != nil {
		r.log.Debug("answer callback failed", logx.Err(err))
	}
	if scope != dialog.CallbackScope {
		r.log.Debug("callback with unknown scope dropped", logx.String("scope", scope))
		return
	}
	if reply, ok := r.dialogs.Advance(ctx, cb.ChatID, payload); ok {
		r.reply(ctx, cb.ChatID, reply)
	}
}

// cmdSub is the one-line registration: /sub <subreddit> <interval_sec> [limit].
func (r *Router) cmdSub(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 || len(args) > 3 {
		r.replyText(ctx, chatID, msgUsageSub)
		return
	}

	sub, err := r.source.Resolve(ctx, args[0])
	if err != nil {
		if errors.Is(err, reddit.ErrSubredditNotFound) {
			r.replyText(ctx, chatID, msgUnknownSub)
		} else {
			r.log.Warn("subreddit resolve failed", logx.String("name", args[0]), logx.Err(err))
			r.replyText(ctx, chatID, msgInternalError)
		}
		return
	}

	secs, err := strconv.ParseFloat(args[1], 64)
	if err != nil || secs <= 0 {
		r.replyText(ctx, chatID, msgBadInterval)
		return
	}
	interval := time.Duration(secs * float64(time.Second))

	limit := 1
	if len(args) == 3 {
		limit, err = strconv.Atoi(args[2])
		if err != nil || limit <= 0 {
			r.replyText(ctx, chatID, msgBadLimit)
			return
		}
	}

	replaced, err := r.sched.Register(subs.Record{
		ChatID:    chatID,
		Subreddit: sub.DisplayName,
		Limit:     limit,
		Interval:  interval,
	})
	if err != nil {
		r.log.Warn("registration failed", logx.Int64("chat", chatID), logx.Err(err))
		r.replyText(ctx, chatID, msgInternalError)
		return
	}
	if replaced {
		r.replyText(ctx, chatID, fmt.Sprintf("Previous timer replaced! Top posts from r/%s every %s.", sub.DisplayName, interval.Truncate(time.Second)))
		return
	}
	r.replyText(ctx, chatID, fmt.Sprintf("Timer successfully set! Top posts from r/%s every %s.", sub.DisplayName, interval.Truncate(time.Second)))
}

// cmdShow fetches and dispatches top posts immediately, outside any schedule.
func (r *Router) cmdShow(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 || len(args) > 2 {
		r.replyText(ctx, chatID, msgUsageShow)
		return
	}

	limit := 1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			r.replyText(ctx, chatID, msgBadLimit)
			return
		}
		limit = n
	}

	sub, err := r.source.Resolve(ctx, args[0])
	if err != nil {
		if errors.Is(err, reddit.ErrSubredditNotFound) {
			r.replyText(ctx, chatID, msgUnknownSub)
		} else {
			r.log.Warn("subreddit resolve failed", logx.String("name", args[0]), logx.Err(err))
			r.replyText(ctx, chatID, msgInternalError)
		}
		return
	}

	posts, err := r.source.Top(ctx, sub.DisplayName, r.period, limit)
	if err != nil {
		r.log.Warn("fetch failed", logx.String("subreddit", sub.DisplayName), logx.Err(err))
		r.replyText(ctx, chatID, msgInternalError)
		return
	}
	if len(posts) == 0 {
		r.replyText(ctx, chatID, fmt.Sprintf("Nothing in r/%s right now.", sub.DisplayName))
		return
	}

	for _, p := range posts {
		if _, err := r.sink.Deliver(ctx, chatID, p); err != nil {
			r.log.Warn("delivery failed; continuing batch", logx.String("post", p.ID), logx.Err(err))
		}
	}
}

func (r *Router) cmdHistory(ctx context.Context, chatID int64, args []string) {
	if r.store == nil {
		r.replyText(ctx, chatID, msgNoHistory)
		return
	}

	limit := 10
	if len(args) >= 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			r.replyText(ctx, chatID, msgBadLimit)
			return
		}
		limit = n
	}

	entries, err := r.store.RecentDeliveries(ctx, chatID, limit)
	if err != nil {
		r.log.Warn("history read failed", logx.Int64("chat", chatID), logx.Err(err))
		r.replyText(ctx, chatID, msgInternalError)
		return
	}
	if len(entries) == 0 {
		r.replyText(ctx, chatID, msgEmptyHistory)
		return
	}

	var b strings.Builder
	b.WriteString("Recent deliveries:\n")
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed"
		}
		fmt.Fprintf(&b, "%s r/%s %s %s (%s)\n",
			e.At.Format("2006-01-02 15:04"), e.Subreddit, e.Kind, e.PostID, status)
	}
	r.replyText(ctx, chatID, b.String())
}

func (r *Router) startDialog(ctx context.Context, chatID int64, flow dialog.Flow) {
	reply, err := r.dialogs.Start(ctx, chatID, flow)
	if err != nil {
		r.log.Warn("dialog start failed", logx.Int64("chat", chatID), logx.Err(err))
	}
	r.reply(ctx, chatID, reply)
}

func (r *Router) reply(ctx context.Context, chatID int64, reply dialog.Reply) {
	if reply.Text == "" {
		return
	}
	opt := &kit.SendOptions{ReplyMarkup: reply.Markup}
	if _, err := r.ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, reply.Text, opt); err != nil {
		r.log.Warn("reply send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) replyText(ctx context.Context, chatID int64, text string) {
	r.reply(ctx, chatID, dialog.Reply{Text: text})
}

// splitCommand parses "/cmd@botname arg1 arg2" into the bare command and args.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}
