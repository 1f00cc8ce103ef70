package dialog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telegag/internal/subs"
	logx "telegag/pkg/logx"
)

// Manager owns all in-flight dialog sessions, one at most per destination.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session

	reg Registrar
	log logx.Logger
}

func NewManager(reg Registrar, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		sessions: map[int64]*session{},
		reg:      reg,
		log:      log,
	}
}

// Active reports whether the destination has an in-flight session.
func (m *Manager) Active(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[chatID]
	return ok
}

// Start opens a fresh session for the destination using the given flow and
// returns the first prompt. An existing session for the same destination is
// discarded; restarting a dialog is not an error.
func (m *Manager) Start(ctx context.Context, chatID int64, flow Flow) (Reply, error) {
	reply, err := flow.PromptSource(ctx)
	if err != nil {
		return Reply{Text: msgPromptFailed}, fmt.Errorf("dialog %s: prompt source: %w", flow.Name, err)
	}

	s := &session{
		mu:     make(chan struct{}, 1),
		chatID: chatID,
		flow:   flow,
		step:   StepSource,
		partial: subs.Record{
			ChatID: chatID,
		},
	}

	m.mu.Lock()
	m.sessions[chatID] = s
	m.mu.Unlock()

	m.log.Debug("dialog started", logx.Int64("chat", chatID), logx.String("flow", flow.Name))
	return reply, nil
}

// Cancel tears the destination's session down from whatever step it is on.
// Reports whether a session existed.
func (m *Manager) Cancel(chatID int64) bool {
	m.mu.Lock()
	_, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()
	if ok {
		m.log.Debug("dialog cancelled", logx.Int64("chat", chatID))
	}
	return ok
}

// Advance feeds one user input to the destination's session. It returns
// ok=false when no session is open, in which case the input is not dialog
// traffic and the caller should treat it as a fresh interaction.
//
// Events for one destination are serialized: a second message arriving while
// the first is still being resolved waits its turn instead of racing the
// step transition.
func (m *Manager) Advance(ctx context.Context, chatID int64, input string) (reply Reply, ok bool) {
	m.mu.Lock()
	s := m.sessions[chatID]
	m.mu.Unlock()
	if s == nil {
		return Reply{}, false
	}

	select {
	case s.mu <- struct{}{}:
	case <-ctx.Done():
		return Reply{}, false
	}
	defer func() { <-s.mu }()

	// The session may have been cancelled or replaced while we waited.
	m.mu.Lock()
	live := m.sessions[chatID] == s
	m.mu.Unlock()
	if !live {
		return Reply{}, false
	}

	return m.step(ctx, s, input), true
}

func (m *Manager) step(ctx context.Context, s *session, input string) Reply {
	switch s.step {
	case StepSource:
		name, err := s.flow.ResolveSource(ctx, input)
		if err != nil {
			return m.retry(s, input, err)
		}
		s.partial.Subreddit = name
		s.step = StepLimit
		return m.prompt(ctx, s, s.flow.PromptLimit)

	case StepLimit:
		limit, err := s.flow.ResolveLimit(input)
		if err != nil {
			return m.retry(s, input, err)
		}
		s.partial.Limit = limit
		s.step = StepInterval
		return m.prompt(ctx, s, s.flow.PromptInterval)

	case StepInterval:
		interval, err := s.flow.ResolveInterval(input)
		if err != nil {
			return m.retry(s, input, err)
		}
		s.partial.Interval = interval
		return m.complete(s)

	default:
		m.drop(s)
		return Reply{Text: msgDialogBroken}
	}
}

// retry keeps the session on its current step and echoes the resolver's
// complaint back to the user.
func (m *Manager) retry(s *session, input string, err error) Reply {
	m.log.Debug("dialog input rejected",
		logx.Int64("chat", s.chatID),
		logx.String("step", s.step.String()),
		logx.String("input", input),
		logx.Err(err),
	)
	return Reply{Text: err.Error() + "\n" + msgTryAgain}
}

func (m *Manager) prompt(ctx context.Context, s *session, f func(context.Context) (Reply, error)) Reply {
	reply, err := f(ctx)
	if err != nil {
		m.log.Warn("dialog prompt failed", logx.Int64("chat", s.chatID), logx.Err(err))
		m.drop(s)
		return Reply{Text: msgPromptFailed}
	}
	return reply
}

// complete registers the assembled record and destroys the session. The
// session is gone either way; a failed registration is reported to the user
// and the dialog has to be restarted.
func (m *Manager) complete(s *session) Reply {
	m.drop(s)

	replaced, err := m.reg.Register(s.partial)
	if err != nil {
		m.log.Warn("dialog registration failed", logx.Int64("chat", s.chatID), logx.Err(err))
		return Reply{Text: msgRegisterFailed}
	}

	m.log.Info("dialog completed",
		logx.Int64("chat", s.chatID),
		logx.String("subreddit", s.partial.Subreddit),
		logx.Int("limit", s.partial.Limit),
		logx.Duration("interval", s.partial.Interval),
		logx.Bool("replaced", replaced),
	)
	if replaced {
		return Reply{Text: fmt.Sprintf(msgTimerReplacedFmt, s.partial.Subreddit, formatInterval(s.partial.Interval))}
	}
	return Reply{Text: fmt.Sprintf(msgTimerSetFmt, s.partial.Subreddit, formatInterval(s.partial.Interval))}
}

// drop removes s by identity. A Start that replaced the session in the
// meantime must not lose its fresh dialog to a stale completion or prompt
// failure, so whatever else sits in the table under the same chat id stays.
func (m *Manager) drop(s *session) {
	m.mu.Lock()
	if m.sessions[s.chatID] == s {
		delete(m.sessions, s.chatID)
	}
	m.mu.Unlock()
}

func formatInterval(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
