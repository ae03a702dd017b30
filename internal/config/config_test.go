package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKEN_EXPIRY", "")
	t.Setenv("MIN_PAYMENT_AMOUNT", "not-a-number")
	t.Setenv("MAX_PAYMENT_AMOUNT", "250.50")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg := Load()

	if cfg.TokenExpiry != 30*time.Minute {
		t.Fatalf("expected default token expiry 30m, got %s", cfg.TokenExpiry)
	}
	if !cfg.MinPaymentAmount.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected min amount fallback 0.01, got %s", cfg.MinPaymentAmount)
	}
	if !cfg.MaxPaymentAmount.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("expected max amount 250.50, got %s", cfg.MaxPaymentAmount)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %#v", cfg.AllowedOrigins)
	}
}

func TestReceiptsEnabled(t *testing.T) {
	cfg := &Config{}
	if cfg.ReceiptsEnabled() {
		t.Fatal("receipts should be disabled without a bucket")
	}
	cfg.ReceiptsDir = "/tmp/receipts"
	if !cfg.ReceiptsEnabled() {
		t.Fatal("receipts should be enabled with a local directory")
	}
	cfg = &Config{S3Bucket: "receipts"}
	if !cfg.ReceiptsEnabled() {
		t.Fatal("receipts should be enabled with a bucket")
	}
}
