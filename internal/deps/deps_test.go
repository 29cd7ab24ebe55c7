package deps

import (
	"os"
	"path/filepath"
	"testing"

	"uwrangler/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatal("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatal("expected detail message for missing binary")
	}

	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected status for unset command: %#v", results[2])
	}
}

func TestRequirementsFollowConfiguredPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Convert.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"
	cfg.Convert.FFprobePath = "/opt/ffmpeg/bin/ffprobe"

	reqs := Requirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}
	if reqs[0].Command != cfg.Convert.FFmpegPath {
		t.Fatalf("ffmpeg command = %q", reqs[0].Command)
	}
	if reqs[1].Command != cfg.Convert.FFprobePath {
		t.Fatalf("ffprobe command = %q", reqs[1].Command)
	}
	for _, req := range reqs {
		if !req.Optional {
			t.Fatalf("%s must be optional", req.Name)
		}
	}
}
