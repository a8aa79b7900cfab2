package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"sentinel-service/internal/config"
)

func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootVersion(t *testing.T) {
	out, err := runCommand(t, "--version")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "sentinel-service 1.0.0\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestTokenCommand(t *testing.T) {
	path := writeConfigFile(t, "auth:\n  jwt_secret: test-secret\n")

	out, err := runCommand(t, "token", "--config", path, "--subject", "ops")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	token := strings.TrimSpace(out)
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("token %q is not a three-segment JWT", token)
	}
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	path := writeConfigFile(t, "log:\n  level: info\n")

	if _, err := runCommand(t, "token", "--config", path); err == nil {
		t.Error("expected an error when no secret is configured")
	}
}

func TestMigrateRequiresDatabase(t *testing.T) {
	path := writeConfigFile(t, "database:\n  enabled: false\n")

	_, err := runCommand(t, "migrate", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "database is disabled") {
		t.Errorf("err = %v, want database-disabled error", err)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	log := newLogger(config.Log{Level: "debug"})
	if log.GetLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}

	log = newLogger(config.Log{Level: "nonsense"})
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("fallback level = %v, want info", log.GetLevel())
	}
}
