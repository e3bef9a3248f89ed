package config

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_TIMEOUT", "250ms")
	if got := GetEnvDuration("X_TIMEOUT", time.Second); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}

	t.Setenv("X_TIMEOUT", "soon")
	if got := GetEnvDuration("X_TIMEOUT", time.Second); got != time.Second {
		t.Errorf("invalid value should fall back, got %v", got)
	}

	t.Setenv("X_TIMEOUT", "-5s")
	if got := GetEnvDuration("X_TIMEOUT", time.Second); got != time.Second {
		t.Errorf("negative value should fall back, got %v", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("X_FLAG", "true")
	if !GetEnvBool("X_FLAG", false) {
		t.Error("expected true")
	}
	t.Setenv("X_FLAG", "maybe")
	if GetEnvBool("X_FLAG", false) {
		t.Error("invalid value should fall back to false")
	}
}

func TestFromEnv_defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LICENSE_MAX_TRIES", "")
	s := FromEnv()
	if s.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", s.Port)
	}
	if s.LicenseMaxTries != 2 {
		t.Errorf("expected default license tries 2, got %d", s.LicenseMaxTries)
	}
	if s.NegotiationTimeout != 10*time.Second {
		t.Errorf("expected default negotiation timeout 10s, got %v", s.NegotiationTimeout)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("X_LIST", " a, ,b ")
	got := GetEnvList("X_LIST", []string{"z"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}

	t.Setenv("X_LIST", " , ")
	if got := GetEnvList("X_LIST", []string{"z"}); len(got) != 1 || got[0] != "z" {
		t.Errorf("blank list should fall back, got %v", got)
	}
}
