package main

import "testing"

func TestBuildInfoDefaults(t *testing.T) {
	// ldflags overwrite these at release time; the dev defaults must
	// stay stable so a dev build identifies itself as such.
	if version != "dev" {
		t.Errorf("version = %q, want %q", version, "dev")
	}
	if commit != "none" {
		t.Errorf("commit = %q, want %q", commit, "none")
	}
	if buildTime != "unknown" {
		t.Errorf("buildTime = %q, want %q", buildTime, "unknown")
	}
}
