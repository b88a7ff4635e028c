package config

import (
	"testing"
	"time"
)

func TestLoadFeedSettings(t *testing.T) {
	t.Setenv("BILLFEED_FEED_OFFSET_MINUTES", "-300")
	t.Setenv("BILLFEED_FEED_TIME_OF_DAY", "09:30")
	t.Setenv("BILLFEED_STRICT_APPEND_ONLY", "true")

	cfg := Load()

	if cfg.FeedOffset != -5*time.Hour {
		t.Fatalf("expected -5h offset, got %s", cfg.FeedOffset)
	}
	if cfg.FeedTimeOfDay != 9*time.Hour+30*time.Minute {
		t.Fatalf("expected 09:30, got %s", cfg.FeedTimeOfDay)
	}
	if !cfg.StrictAppendOnly {
		t.Fatal("expected strict append-only mode")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BILLFEED_FEED_TIME_OF_DAY", "not-a-time")
	t.Setenv("LEGISCAN_RATE_PER_SECOND", "")

	cfg := Load()

	if cfg.FeedTimeOfDay != 0 {
		t.Fatalf("expected midnight fallback, got %s", cfg.FeedTimeOfDay)
	}
	if cfg.LegiScanRate != 2 {
		t.Fatalf("expected default rate 2, got %v", cfg.LegiScanRate)
	}
	if cfg.Addr != ":2017" {
		t.Fatalf("unexpected default addr %q", cfg.Addr)
	}
}
