package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Timezone != "Asia/Seoul" || p.WeekdayBucketMin != 30 {
		t.Fatalf("defaults = %+v", p)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "weekdayBucketMin: 15\nspeedRushKph: 12\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.WeekdayBucketMin != 15 || p.SpeedRushKph != 12 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	// Untouched fields keep their defaults.
	if p.WeekendBucketMin != 60 || p.Timezone != "Asia/Seoul" {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("roadInflation: 0.5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("inflation below 1 accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}
