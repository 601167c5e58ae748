package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "ENV", "DB_DRIVER", "REDIS_HOST", "DELIVERY_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.DBDriver)
	}
	if cfg.RedisHost != "" {
		t.Errorf("redis should be disabled by default, got %q", cfg.RedisHost)
	}
	if cfg.ReminderSchedule != "@every 30s" || cfg.DigestSchedule != "@every 1m" {
		t.Errorf("unexpected schedules: %q %q", cfg.ReminderSchedule, cfg.DigestSchedule)
	}
	if cfg.DeliveryTimeout != 10*time.Second || cfg.MinLeadTime != time.Minute {
		t.Errorf("unexpected timeouts: %v %v", cfg.DeliveryTimeout, cfg.MinLeadTime)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SQS_REGION", "")
	t.Setenv("AWS_ENABLED", "true")
	t.Setenv("WEBHOOK_TIMEOUT", "15")
	t.Setenv("DELIVERY_TIMEOUT", "2500ms")
	t.Setenv("REMINDER_SCHEDULE", "@every 10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 || cfg.Env != "production" || cfg.DBDriver != "pgx" {
		t.Errorf("unexpected basics: %+v", cfg)
	}
	if !cfg.AWSEnabled || cfg.SQSRegion != "eu-west-1" {
		t.Errorf("sqs region should follow AWS_REGION, got %q", cfg.SQSRegion)
	}
	if cfg.WebhookTimeout != 15*time.Second {
		t.Errorf("bare seconds should parse, got %v", cfg.WebhookTimeout)
	}
	if cfg.DeliveryTimeout != 2500*time.Millisecond {
		t.Errorf("duration string should parse, got %v", cfg.DeliveryTimeout)
	}
	if cfg.ReminderSchedule != "@every 10s" {
		t.Errorf("unexpected reminder schedule %q", cfg.ReminderSchedule)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"DB_DRIVER", "mysql"},
		{"REDIS_DB", "x"},
		{"AWS_ENABLED", "maybe"},
		{"DELIVERY_TIMEOUT", "soon"},
		{"WEBHOOK_RPS", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
