package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DIALECT", "")
	t.Setenv("SESSION_LIVE_TTL_SECONDS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.Dialect != "xml" {
		t.Fatalf("expected default dialect xml, got %s", cfg.Dialect)
	}
	if cfg.DefaultLanguage != "hi" {
		t.Fatalf("expected default language hi, got %s", cfg.DefaultLanguage)
	}
	if cfg.DefaultPrepMinutes != 30 {
		t.Fatalf("expected default prep minutes 30, got %d", cfg.DefaultPrepMinutes)
	}
	if cfg.SessionLiveTTL != 15*time.Minute {
		t.Fatalf("expected default live TTL 15m, got %s", cfg.SessionLiveTTL)
	}
	if cfg.SessionReportedTTL != 60*time.Second {
		t.Fatalf("expected default reported TTL 60s, got %s", cfg.SessionReportedTTL)
	}
	if cfg.HandlerBudget != 4*time.Second {
		t.Fatalf("expected default handler budget 4s, got %s", cfg.HandlerBudget)
	}
	if cfg.LockWait != 500*time.Millisecond {
		t.Fatalf("expected default lock wait 500ms, got %s", cfg.LockWait)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue by default")
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected snapshotting disabled by default, got %s", cfg.RedisAddr)
	}
	if cfg.CarrierBaseURL != "https://api.exotel.com" {
		t.Fatalf("expected default carrier base URL, got %s", cfg.CarrierBaseURL)
	}
	if cfg.BrandName != "Mangwale" {
		t.Fatalf("expected default brand name, got %s", cfg.BrandName)
	}
	if cfg.InitiateRatePerSec != 10 || cfg.InitiateBurst != 20 {
		t.Fatalf("expected default initiate limits 10/20, got %v/%d", cfg.InitiateRatePerSec, cfg.InitiateBurst)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DIALECT", "JSON")
	t.Setenv("CARRIER_BASE_URL", "http://localhost:4010/")
	t.Setenv("CARRIER_ACCOUNT_SID", "mangwale1")
	t.Setenv("CALLBACK_BASE_URL", "https://ivr.mangwale.in/")
	t.Setenv("SESSION_LIVE_TTL_SECONDS", "120")
	t.Setenv("SESSION_REPORTED_TTL_SECONDS", "5")
	t.Setenv("HANDLER_BUDGET_MS", "2500")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("USE_MEMORY_QUEUE", "false")
	t.Setenv("REPORT_QUEUE_URL", "http://localhost:4566/000000000000/call-outcomes")
	t.Setenv("INITIATE_RATE_PER_SEC", "2.5")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Dialect != "json" {
		t.Fatalf("expected dialect lowered to json, got %s", cfg.Dialect)
	}
	if cfg.CarrierBaseURL != "http://localhost:4010" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.CarrierBaseURL)
	}
	if cfg.CallbackBaseURL != "https://ivr.mangwale.in" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.CallbackBaseURL)
	}
	if cfg.SessionLiveTTL != 2*time.Minute {
		t.Fatalf("expected live TTL override, got %s", cfg.SessionLiveTTL)
	}
	if cfg.SessionReportedTTL != 5*time.Second {
		t.Fatalf("expected reported TTL override, got %s", cfg.SessionReportedTTL)
	}
	if cfg.HandlerBudget != 2500*time.Millisecond {
		t.Fatalf("expected handler budget override, got %s", cfg.HandlerBudget)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected worker count override, got %d", cfg.WorkerCount)
	}
	if cfg.UseMemoryQueue {
		t.Fatalf("expected SQS queue when USE_MEMORY_QUEUE=false")
	}
	if cfg.ReportQueueURL == "" {
		t.Fatalf("expected report queue URL override")
	}
	if cfg.InitiateRatePerSec != 2.5 {
		t.Fatalf("expected initiate rate override, got %v", cfg.InitiateRatePerSec)
	}
}
