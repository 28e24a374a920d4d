package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  environment: test\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.App.Environment != "test" {
		t.Fatalf("environment = %q", cfg.App.Environment)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("interval = %s, want 24h", cfg.Scheduler.Interval)
	}
	if cfg.Detection.ThresholdPct != 50 {
		t.Fatalf("threshold = %v, want 50", cfg.Detection.ThresholdPct)
	}
	if cfg.Detection.BaselineWindowDays != 30 {
		t.Fatalf("window = %d, want 30", cfg.Detection.BaselineWindowDays)
	}
	if cfg.EventBus.DeliveryTimeout != 10*time.Second {
		t.Fatalf("delivery timeout = %s", cfg.EventBus.DeliveryTimeout)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
detection:
  threshold_pct: 75
  baseline_window_days: 0
  concurrency: 8
alerting:
  min_severity: high
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.ThresholdPct != 75 || cfg.Detection.BaselineWindowDays != 0 || cfg.Detection.Concurrency != 8 {
		t.Fatalf("detection overrides not applied: %+v", cfg.Detection)
	}
	if cfg.Alerting.MinSeverity != "high" {
		t.Fatalf("min severity = %q", cfg.Alerting.MinSeverity)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Interval: 24 * time.Hour},
			Detection: DetectionConfig{ThresholdPct: 50, Concurrency: 1},
			EventBus:  EventBusConfig{Buffer: 1},
			Alerting:  AlertingConfig{MinSeverity: "low"},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	if cfg := base(); cfg.Validate() != nil {
		t.Fatalf("base config should be valid: %v", cfg.Validate())
	}

	cases := map[string]func(*Config){
		"zero threshold":       func(c *Config) { c.Detection.ThresholdPct = 0 },
		"negative window":      func(c *Config) { c.Detection.BaselineWindowDays = -1 },
		"zero concurrency":     func(c *Config) { c.Detection.Concurrency = 0 },
		"offset past interval": func(c *Config) { c.Scheduler.Offset = 25 * time.Hour },
		"unknown severity":     func(c *Config) { c.Alerting.MinSeverity = "urgent" },
		"telegram no token": func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "chat"
		},
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
