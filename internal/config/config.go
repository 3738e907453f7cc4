// Package config provides configuration loading and validation for the
// EXFILGUARD agent.
//
// Configuration file: /etc/exfilguard/config.yaml (default)
// Schema version: 1
//
// Validation:
//   - Threshold triples must be strictly increasing.
//   - Durations must be non-negative.
//   - Invalid config on startup: agent refuses to start (fatal error,
//     single diagnostic line — spec §7 "Configuration defect").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for EXFILGUARD (spec §6).
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// LoggingDirectory is where log-YYYYMMDD.bin and log.key live.
	LoggingDirectory string `yaml:"logging_directory"`

	// PluginDirectory is scanned for detection plugins (external
	// collaborator; the core only consumes whatever registers itself).
	PluginDirectory string `yaml:"plugin_directory"`

	Behavior          BehaviorConfig          `yaml:"behavior"`
	Defense           DefenseConfig           `yaml:"defense"`
	ProcessMonitoring ProcessMonitoringConfig `yaml:"process_monitoring"`
	MemoryScanning    MemoryScanningConfig    `yaml:"memory_scanning"`
	Network           NetworkConfig           `yaml:"network"`
	Integrity         IntegrityConfig         `yaml:"integrity"`
	Observability     ObservabilityConfig     `yaml:"observability"`
}

// BehaviorConfig holds the Behavior Engine's score thresholds (spec §3,
// §4.3). Must be strictly increasing.
type BehaviorConfig struct {
	SuspiciousThreshold int `yaml:"suspicious_threshold"`
	MaliciousThreshold  int `yaml:"malicious_threshold"`
	CriticalThreshold   int `yaml:"critical_threshold"`
}

// DefenseConfig holds the Action Manager's policy knobs (spec §4.4, §6).
type DefenseConfig struct {
	ProcessSuspendDuration  time.Duration `yaml:"process_suspend_duration"`
	NetworkBlockDuration    time.Duration `yaml:"network_block_duration"`
	ActionCooldown          time.Duration `yaml:"action_cooldown"`
	MaxConcurrentTerminates int           `yaml:"max_concurrent_terminates"`
	TerminateFailureBackoff time.Duration `yaml:"terminate_failure_backoff"`
}

// ProcessMonitoringConfig holds Process Probe controls (spec §4.5, §6).
type ProcessMonitoringConfig struct {
	ScanInterval         time.Duration `yaml:"scan_interval"`
	AllowListedProcesses []string      `yaml:"allow_listed_processes"`
}

// MemoryScanningConfig holds Memory Probe controls (spec §4.6, §6).
type MemoryScanningConfig struct {
	ScanInterval       time.Duration `yaml:"scan_interval"`
	MaxConcurrentScans int           `yaml:"max_concurrent_scans"`
	TargetProcesses    []string      `yaml:"target_processes"`
}

// NetworkConfig holds Network Probe controls (spec §4.7, §6).
type NetworkConfig struct {
	ScanInterval               time.Duration `yaml:"scan_interval"`
	PrimaryInterfacePreference string        `yaml:"primary_interface_preference"`
	HighRiskHosts              []string      `yaml:"high_risk_hosts"`
	SuspiciousPorts            []int         `yaml:"suspicious_ports"`
}

// IntegrityConfig holds the integrity collaborator's parameters
// (external collaborator; referenced only by its contract — spec §1).
type IntegrityConfig struct {
	ProtectedFiles     []string      `yaml:"protected_files"`
	VerificationInterval time.Duration `yaml:"verification_interval"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// DefaultLoggingDirectory mirrors the audit package's expectation for
// use in config defaults.
const DefaultLoggingDirectory = "/var/lib/exfilguard/logs"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		SchemaVersion:    "1",
		LoggingDirectory: DefaultLoggingDirectory,
		PluginDirectory:  "/etc/exfilguard/plugins",
		Behavior: BehaviorConfig{
			SuspiciousThreshold: 10,
			MaliciousThreshold:  15,
			CriticalThreshold:   20,
		},
		Defense: DefenseConfig{
			ProcessSuspendDuration:  30 * time.Second,
			NetworkBlockDuration:    5 * time.Minute,
			ActionCooldown:          10 * time.Second,
			MaxConcurrentTerminates: 2,
			TerminateFailureBackoff: 30 * time.Second,
		},
		ProcessMonitoring: ProcessMonitoringConfig{
			ScanInterval:         5 * time.Second,
			AllowListedProcesses: []string{"system", "svchost", "systemd"},
		},
		MemoryScanning: MemoryScanningConfig{
			ScanInterval:       30 * time.Second,
			MaxConcurrentScans: 4,
			TargetProcesses:    nil,
		},
		Network: NetworkConfig{
			ScanInterval:               5 * time.Second,
			PrimaryInterfacePreference: "eth",
			HighRiskHosts:              nil,
			SuspiciousPorts:            []int{4444, 6667, 8081},
		},
		Integrity: IntegrityConfig{
			VerificationInterval: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path. Returns
// the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness (spec §7
// "Configuration defect"). Returns a descriptive error listing all
// violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.LoggingDirectory == "" {
		errs = append(errs, "logging_directory must not be empty")
	}

	b := cfg.Behavior
	if !(b.SuspiciousThreshold < b.MaliciousThreshold && b.MaliciousThreshold < b.CriticalThreshold) {
		errs = append(errs, fmt.Sprintf(
			"behavior thresholds must be strictly increasing, got suspicious=%d malicious=%d critical=%d",
			b.SuspiciousThreshold, b.MaliciousThreshold, b.CriticalThreshold))
	}

	d := cfg.Defense
	if d.ProcessSuspendDuration < 0 {
		errs = append(errs, "defense.process_suspend_duration must be >= 0")
	}
	if d.NetworkBlockDuration < 0 {
		errs = append(errs, "defense.network_block_duration must be >= 0")
	}
	if d.ActionCooldown < 0 {
		errs = append(errs, "defense.action_cooldown must be >= 0")
	}
	if d.MaxConcurrentTerminates < 0 {
		errs = append(errs, fmt.Sprintf("defense.max_concurrent_terminates must be >= 0, got %d", d.MaxConcurrentTerminates))
	}
	if d.TerminateFailureBackoff < 0 {
		errs = append(errs, "defense.terminate_failure_backoff must be >= 0")
	}

	if cfg.ProcessMonitoring.ScanInterval <= 0 {
		errs = append(errs, "process_monitoring.scan_interval must be > 0")
	}
	if cfg.MemoryScanning.ScanInterval <= 0 {
		errs = append(errs, "memory_scanning.scan_interval must be > 0")
	}
	if cfg.MemoryScanning.MaxConcurrentScans < 0 {
		errs = append(errs, "memory_scanning.max_concurrent_scans must be >= 0")
	}
	if cfg.Network.ScanInterval <= 0 {
		errs = append(errs, "network.scan_interval must be > 0")
	}
	for _, port := range cfg.Network.SuspiciousPorts {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("network.suspicious_ports entries must be in [1, 65535], got %d", port))
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
