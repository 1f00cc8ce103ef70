package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "t0k3n"
  poll_timeout: "5s"
reddit:
  client_id: "cid"
  username: "u"
  password: "p"
logging:
  level: "DEBUG"
  console: true
  file:
    enabled: false
    path: ""
delivery:
  first_delay: "10s"
  period: "day"
  rate_per_sec: 2
storage:
  driver: "sqlite"
  path: "./test.db"
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "t0k3n" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Delivery.Period != "day" || cfg.Delivery.RatePerSec != 2 {
		t.Fatalf("delivery = %+v", cfg.Delivery)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "abc", "poll_timeout": "10s"},
		"reddit": {"client_id": "cid", "username": "u", "password": "p"},
		"logging": {"level": "INFO", "console": true, "file": {"enabled": false, "path": ""}},
		"delivery": {"period": "week"}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Delivery.Period != "week" {
		t.Fatalf("period = %q", cfg.Delivery.Period)
	}
	if cfg.Storage != nil {
		t.Fatalf("storage should be nil when omitted, got %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "abc"}, "bogus": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "a"}}{"telegram": {"token": "b"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{raw: "", want: 0, ok: true},
		{raw: "10s", want: 10 * time.Second, ok: true},
		{raw: " 2m ", want: 2 * time.Minute, ok: true},
		{raw: "-5s", ok: false},
		{raw: "nope", ok: false},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if tt.ok != (err == nil) {
			t.Fatalf("ParseDurationField(%q) err = %v", tt.raw, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("x", "", 7*time.Second)
	if err != nil || got != 7*time.Second {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = ParseDurationOrDefault("x", "3s", 7*time.Second)
	if err != nil || got != 3*time.Second {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("received wrong config")
		}
	default:
		t.Fatal("no config published")
	}

	// A full buffer drops the oldest; the latest always wins.
	first, second := &Config{}, &Config{}
	first.Delivery.Period = "day"
	second.Delivery.Period = "week"
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("got period %q, want latest", got.Delivery.Period)
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}
}
