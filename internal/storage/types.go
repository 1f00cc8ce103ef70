package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "telegag/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the delivery-history store.
//
// If Driver is empty or "none", storage is disabled and Open returns (nil, nil).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// DeliveryEntry records one delivered (or attempted) post.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At        time.Time
	TickID    string
	ChatID    int64
	Subreddit string
	PostID    string
	Kind      string
	OK        bool
	Error     string
}

// Store is the minimal persistence API used by the scheduler and commands.
type Store interface {
	AppendDelivery(ctx context.Context, e DeliveryEntry) error
	RecentDeliveries(ctx context.Context, chatID int64, limit int) ([]DeliveryEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
