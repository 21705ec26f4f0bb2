package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONVERSATION_MAX_BODY_LENGTH", "")
	t.Setenv("HUB_PING_PERIOD_SECONDS", "")
	t.Setenv("HUB_PONG_WAIT_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Conversation.MaxBodyLength != 1000 {
		t.Fatalf("expected default max body length 1000, got %d", cfg.Conversation.MaxBodyLength)
	}
	if cfg.Hub.PongWait() <= cfg.Hub.PingPeriod() {
		t.Fatalf("pong wait %v must exceed ping period %v", cfg.Hub.PongWait(), cfg.Hub.PingPeriod())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONVERSATION_MAX_BODY_LENGTH", "280")
	t.Setenv("CONVERSATION_RATE_LIMIT_WINDOW_SECONDS", "5")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Conversation.MaxBodyLength != 280 {
		t.Fatalf("expected 280, got %d", cfg.Conversation.MaxBodyLength)
	}
	if cfg.Conversation.RateLimitWindow() != 5*time.Second {
		t.Fatalf("expected 5s window, got %v", cfg.Conversation.RateLimitWindow())
	}
	if cfg.App.Port != "9090" {
		t.Fatalf("unexpected port %s", cfg.App.Port)
	}
}

func TestLoadRejectsInvalidHeartbeat(t *testing.T) {
	t.Setenv("HUB_PING_PERIOD_SECONDS", "30")
	t.Setenv("HUB_PONG_WAIT_SECONDS", "10")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when pong wait is shorter than ping period")
	}
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid REDIS_DB")
	}
}
