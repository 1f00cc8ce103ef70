package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"telegag/internal/reddit"
	"telegag/pkg/tgui"
)

// CallbackScope tags inline buttons produced by the menu flow so the update
// router can hand their payloads back to Advance.
const CallbackScope = "dlg"

const (
	msgTryAgain         = "Try again or send /cancel."
	msgPromptFailed     = "Something went wrong, please try again later."
	msgRegisterFailed   = "Could not start the subscription, please try again later."
	msgDialogBroken     = "Something went wrong, please start over."
	msgTimerSetFmt      = "Timer successfully set! Top posts from r/%s every %s."
	msgTimerReplacedFmt = "Previous timer replaced! Top posts from r/%s every %s."

	promptSourceText   = "Which subreddit should I send posts from? Send its name, e.g. aww."
	promptLimitText    = "How many posts per delivery? Send a number, e.g. 3."
	promptIntervalText = "How often should I send them? Interval in seconds, e.g. 3600."

	promptSourceMenu   = "Pick a subreddit:"
	promptLimitMenu    = "How many posts per delivery?"
	promptIntervalMenu = "How often should I send them?"
)

var (
	errSourceUnknown = errors.New("I don't know that subreddit.")
	errBadLimit      = errors.New("That doesn't look like a positive number of posts.")
	errBadInterval   = errors.New("That doesn't look like a positive number of seconds.")
	errNotAnOption   = errors.New("Please use one of the buttons.")
)

// SourceResolver validates a user-typed subreddit name.
type SourceResolver interface {
	Resolve(ctx context.Context, name string) (reddit.Subreddit, error)
}

// SourceLister supplies subreddit choices for the menu flow.
type SourceLister interface {
	Popular(ctx context.Context, limit int) ([]reddit.Subreddit, error)
}

// TextFlow is the free-text variant: every field arrives as a typed message
// and is validated in place.
func TextFlow(res SourceResolver) Flow {
	return Flow{
		Name: "text",
		PromptSource: func(context.Context) (Reply, error) {
			return Reply{Text: promptSourceText}, nil
		},
		ResolveSource: func(ctx context.Context, input string) (string, error) {
			sub, err := res.Resolve(ctx, input)
			if errors.Is(err, reddit.ErrSubredditNotFound) {
				return "", errSourceUnknown
			}
			if err != nil {
				return "", errSourceUnknown
			}
			return sub.DisplayName, nil
		},
		PromptLimit: func(context.Context) (Reply, error) {
			return Reply{Text: promptLimitText}, nil
		},
		ResolveLimit: parseLimit,
		PromptInterval: func(context.Context) (Reply, error) {
			return Reply{Text: promptIntervalText}, nil
		},
		ResolveInterval: parseIntervalSeconds,
	}
}

// MenuFlow is the button-driven variant: the source choices come from the
// popular listing fetched when the dialog opens, and limit/interval come
// from fixed option sets. Inputs are callback payloads, validated against
// the options that were actually offered.
func MenuFlow(lister SourceLister) Flow {
	var (
		offered   []string
		limits    = []int{1, 3, 5, 10}
		intervals = []time.Duration{15 * time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour}
	)

	return Flow{
		Name: "menu",
		PromptSource: func(ctx context.Context) (Reply, error) {
			popular, err := lister.Popular(ctx, 10)
			if err != nil {
				return Reply{}, fmt.Errorf("list popular subreddits: %w", err)
			}
			offered = offered[:0]
			btns := make([]tele.Btn, 0, len(popular))
			for _, sub := range popular {
				if sub.DisplayName == "" {
					continue
				}
				offered = append(offered, sub.DisplayName)
				btns = append(btns, tgui.Btn("r/"+sub.DisplayName, tgui.Data(CallbackScope, "src", sub.DisplayName)))
			}
			if len(btns) == 0 {
				return Reply{}, errors.New("popular listing came back empty")
			}
			return Reply{Text: promptSourceMenu, Markup: tgui.Grid2(btns)}, nil
		},
		ResolveSource: func(_ context.Context, input string) (string, error) {
			for _, name := range offered {
				if strings.EqualFold(name, input) {
					return name, nil
				}
			}
			return "", errNotAnOption
		},
		PromptLimit: func(context.Context) (Reply, error) {
			btns := make([]tele.Btn, 0, len(limits))
			for _, n := range limits {
				btns = append(btns, tgui.Btn(strconv.Itoa(n), tgui.Data(CallbackScope, "limit", strconv.Itoa(n))))
			}
			return Reply{Text: promptLimitMenu, Markup: tgui.Grid2(btns)}, nil
		},
		ResolveLimit: func(input string) (int, error) {
			n, err := parseLimit(input)
			if err != nil || !containsInt(limits, n) {
				return 0, errNotAnOption
			}
			return n, nil
		},
		PromptInterval: func(context.Context) (Reply, error) {
			btns := make([]tele.Btn, 0, len(intervals))
			for _, d := range intervals {
				secs := strconv.Itoa(int(d / time.Second))
				btns = append(btns, tgui.Btn(formatInterval(d), tgui.Data(CallbackScope, "ivl", secs)))
			}
			return Reply{Text: promptIntervalMenu, Markup: tgui.Grid2(btns)}, nil
		},
		ResolveInterval: func(input string) (time.Duration, error) {
			d, err := parseIntervalSeconds(input)
			if err != nil || !containsDuration(intervals, d) {
				return 0, errNotAnOption
			}
			return d, nil
		},
	}
}

func parseLimit(input string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	return n, nil
}

// parseIntervalSeconds accepts whole or fractional seconds ("30", "0.5").
func parseIntervalSeconds(input string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || f <= 0 {
		return 0, errBadInterval
	}
	return time.Duration(f * float64(time.Second)), nil
}

func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}

func containsDuration(set []time.Duration, d time.Duration) bool {
	for _, v := range set {
		if v == d {
			return true
		}
	}
	return false
}
