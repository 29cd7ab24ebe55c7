package main

import (
	"image/color"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"uwrangler/internal/testsupport"
)

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running:")
	requireContains(t, out, "yes")
	requireContains(t, out, "Queued jobs:")
}

func TestMediaLifecycleCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.WritePNG(t, filepath.Join(env.cfg.Paths.SourceDir, "sunset.png"), 64, 64, color.RGBA{R: 200, A: 255})

	out, _, err := runCLI(t, []string{"scan"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "Scan requested")

	waitFor(t, 10*time.Second, func() bool {
		listing, _, err := runCLI(t, []string{"media"}, env.apiAddr, env.configPath)
		return err == nil && strings.Contains(listing, "sunset") && strings.Contains(listing, "ready")
	})

	out, _, err = runCLI(t, []string{"jobs"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "succeeded")

	out, _, err = runCLI(t, []string{"reconvert", "sunset"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("reconvert: %v", err)
	}
	requireContains(t, out, "Conversion queued for sunset")

	out, _, err = runCLI(t, []string{"remove", "sunset"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	requireContains(t, out, "Removed sunset")

	out, _, err = runCLI(t, []string{"media"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("media after remove: %v", err)
	}
	requireContains(t, out, "No media found.")
}

func TestConvertLocal(t *testing.T) {
	env := setupCLITestEnv(t)

	source := filepath.Join(env.baseDir, "drop", "checker.png")
	testsupport.WritePNG(t, source, 32, 32, color.RGBA{G: 180, A: 255})

	out, _, err := runCLI(t, []string{"convert", "--local", source}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	requireContains(t, out, "16x16")
	requireContains(t, out, "Converted checker")
}

func TestRemoveUnknownMedia(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"remove", "nothing-here"}, env.apiAddr, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no media matches") {
		t.Fatalf("expected no-match error, got %v", err)
	}
}

func TestActivityCommandEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"activity"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	requireContains(t, out, "No stream activity recorded.")
}
