package subs

import (
	"context"
	"strconv"
	"time"

	"telegag/internal/feed"
	"telegag/internal/reddit"
)

// DefaultFirstDelay is the warm-up before a new subscription's first tick.
// It is an operator constant, never collected from the user.
const DefaultFirstDelay = 10 * time.Second

// Record holds the fully-resolved parameters needed to start a subscription.
// A Record must pass validation before it ever reaches Register.
type Record struct {
	ChatID    int64
	Subreddit string
	Limit     int
	Interval  time.Duration
}

// Name is the scheduler key for this record's destination.
func (r Record) Name() string { return strconv.FormatInt(r.ChatID, 10) }

// FetchFunc pulls the top posts of a subreddit for one tick.
type FetchFunc func(ctx context.Context, subreddit, period string, limit int) ([]reddit.Post, error)

// Deliverer sends a single post to a destination and reports the media kind
// it attempted.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, p reddit.Post) (feed.MediaKind, error)
}

// JobInfo is a read-only view of a live subscription.
type JobInfo struct {
	Name     string
	Record   Record
	NextTick time.Time
}
