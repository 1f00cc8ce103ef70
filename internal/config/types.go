package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Reddit   RedditConfig   `json:"reddit"`
	Logging  LoggingConfig  `json:"logging"`
	Delivery DeliveryConfig `json:"delivery"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// RedditConfig carries the content-source credentials.
//
// ClientSecret may stay empty for "installed app" style credentials; the
// script-auth password grant still works with a blank secret.
type RedditConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	UserAgent    string `json:"user_agent,omitempty"`
	// BaseURL overrides the API endpoint (tests, proxies). Default is the
	// public Reddit API.
	BaseURL string `json:"base_url,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeliveryConfig controls the subscription tick behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - first_delay: "10s" (warm-up before a new subscription's first tick)
//   - period: "day" (ranking window for "top" posts)
//   - rate_per_sec: 1 (outbound media sends per second)
type DeliveryConfig struct {
	FirstDelay string `json:"first_delay,omitempty"`
	Period     string `json:"period,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional delivery-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./telegag.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
