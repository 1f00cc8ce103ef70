package dialog

import (
	"context"
	"time"

	"telegag/internal/subs"
)

// Step is the current node of the subscribe dialog. The machine walks
// StepSource -> StepLimit -> StepInterval and then registers the record;
// cancellation is reachable from every step.
type Step int

const (
	StepSource Step = iota
	StepLimit
	StepInterval
)

func (s Step) String() string {
	switch s {
	case StepSource:
		return "source"
	case StepLimit:
		return "limit"
	case StepInterval:
		return "interval"
	default:
		return "unknown"
	}
}

// Reply is what the machine wants shown to the user after an event.
// Markup is adapter-specific (Telegram: *telebot.ReplyMarkup) and may be nil.
type Reply struct {
	Text   string
	Markup any
}

// Registrar receives the completed configuration record.
type Registrar interface {
	Register(rec subs.Record) (replaced bool, err error)
}

// Flow parameterizes the machine: both dialog variants (free text and
// menu-driven) share the same four-stage shape and differ only in how each
// field is prompted for and resolved. A resolver returning an error keeps
// the session on its current step; the error text is surfaced to the user.
type Flow struct {
	Name string

	PromptSource    func(ctx context.Context) (Reply, error)
	ResolveSource   func(ctx context.Context, input string) (string, error)
	PromptLimit     func(ctx context.Context) (Reply, error)
	ResolveLimit    func(input string) (int, error)
	PromptInterval  func(ctx context.Context) (Reply, error)
	ResolveInterval func(input string) (time.Duration, error)
}

// session is one user's in-flight dialog. The per-session mutex gives each
// destination a total order of events while letting different destinations
// progress in parallel.
type session struct {
	mu      chan struct{} // buffered(1), acts as a mutex usable with ctx
	chatID  int64
	flow    Flow
	step    Step
	partial subs.Record
}
