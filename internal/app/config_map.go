package app

import (
	"fmt"
	"strings"
	"time"

	"telegag/internal/reddit"
	"telegag/internal/storage"
	"telegag/internal/subs"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}

	switch driver {
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRedditConfig(cfg *Config) reddit.Config {
	return reddit.Config{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
	}
}

var validPeriods = map[string]bool{
	"hour": true, "day": true, "week": true, "month": true, "year": true, "all": true,
}

// mapDeliveryConfig validates the delivery section and splits it into the
// scheduler config and the dispatcher send rate.
func mapDeliveryConfig(cfg *Config) (subs.Config, int, error) {
	firstDelay, err := parseDurationField("delivery.first_delay", cfg.Delivery.FirstDelay)
	if err != nil {
		return subs.Config{}, 0, err
	}

	period := strings.ToLower(strings.TrimSpace(cfg.Delivery.Period))
	if period != "" && !validPeriods[period] {
		return subs.Config{}, 0, fmt.Errorf("delivery.period: unknown ranking window %q", cfg.Delivery.Period)
	}

	if cfg.Delivery.RatePerSec < 0 {
		return subs.Config{}, 0, fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}

	return subs.Config{Period: period, FirstDelay: firstDelay}, cfg.Delivery.RatePerSec, nil
}
