package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.HasServiceType("plumbing") {
		t.Fatalf("expected plumbing in catalog")
	}
	min, max := cfg.ChatDelayRange()
	if min.Seconds() != 15 || max.Seconds() != 40 {
		t.Fatalf("unexpected chat delays %v-%v", min, max)
	}
	if cfg.ChatIdleTimeout().Minutes() != 5 {
		t.Fatalf("unexpected chat idle timeout %v", cfg.ChatIdleTimeout())
	}
	if cfg.Chat.PreviewLength != 20 {
		t.Fatalf("unexpected preview length %d", cfg.Chat.PreviewLength)
	}
}

func TestFromYAMLRejectsBadChatDelays(t *testing.T) {
	raw := strings.Replace(GenerateDefault(), "max_delay_seconds: 40", "max_delay_seconds: 5", 1)
	if _, err := FromYAML([]byte(raw)); err == nil {
		t.Fatalf("expected delay validation error")
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("platform: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for missing file, got %v %v", cfg, err)
	}
	raw := strings.Replace(GenerateDefault(), "platform_fee_percent: 10", "platform_fee_percent: 12.5", 1)
	if err := os.WriteFile(filepath.Join(dir, "gotodo.yml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bidding.PlatformFeePercent != 12.5 {
		t.Fatalf("expected fee 12.5, got %v", cfg.Bidding.PlatformFeePercent)
	}
}
