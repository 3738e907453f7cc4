package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults_PassValidation(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults must validate cleanly: %v", err)
	}
}

func TestValidate_ThresholdsMustBeStrictlyIncreasing(t *testing.T) {
	cfg := Defaults()
	cfg.Behavior = BehaviorConfig{SuspiciousThreshold: 15, MaliciousThreshold: 15, CriticalThreshold: 20}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for non-strictly-increasing thresholds")
	}

	cfg.Behavior = BehaviorConfig{SuspiciousThreshold: 20, MaliciousThreshold: 15, CriticalThreshold: 10}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for descending thresholds")
	}
}

func TestValidate_NegativeDurationsRejected(t *testing.T) {
	cfg := Defaults()
	cfg.Defense.ProcessSuspendDuration = -time.Second
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for negative process_suspend_duration")
	}
}

func TestValidate_SchemaVersionMismatchRejected(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for unsupported schema_version")
	}
}

func TestValidate_ScanIntervalsMustBePositive(t *testing.T) {
	cfg := Defaults()
	cfg.ProcessMonitoring.ScanInterval = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for zero process_monitoring.scan_interval")
	}
}

func TestValidate_SuspiciousPortsMustBeInRange(t *testing.T) {
	cfg := Defaults()
	cfg.Network.SuspiciousPorts = []int{70000}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for out-of-range suspicious port")
	}
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
schema_version: "1"
logging_directory: /tmp/exfilguard-test/logs
behavior:
  suspicious_threshold: 5
  malicious_threshold: 8
  critical_threshold: 12
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LoggingDirectory != "/tmp/exfilguard-test/logs" {
		t.Fatalf("logging_directory = %q, not overridden", cfg.LoggingDirectory)
	}
	if cfg.Behavior.CriticalThreshold != 12 {
		t.Fatalf("critical_threshold = %d, want 12", cfg.Behavior.CriticalThreshold)
	}
	// Fields absent from the file should retain their default values.
	if cfg.Defense.MaxConcurrentTerminates != Defaults().Defense.MaxConcurrentTerminates {
		t.Fatalf("defense.max_concurrent_terminates should fall back to default")
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
schema_version: "1"
behavior:
  suspicious_threshold: 20
  malicious_threshold: 15
  critical_threshold: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an invalid config")
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected Load to fail for a missing file")
	}
}
