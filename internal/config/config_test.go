package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != "8080" || c.Cron.ReminderHour != 6 || c.Cron.MaintenanceEvery != time.Hour {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("port: \"9000\"\ncron:\n  enabled: true\n  reminder_hour: 7\n  maintenance_every: 30m\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PORT", "9100")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != "9100" {
		t.Fatalf("env should win over yaml: port = %s", c.Port)
	}
	if c.Cron.ReminderHour != 7 || c.Cron.MaintenanceEvery != 30*time.Minute {
		t.Fatalf("yaml values lost: %+v", c.Cron)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}
