package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
)

// DoctorCommand returns the CLI command definition for the 'doctor'
// subcommand, which diagnoses common setup problems.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify otlp-tail is properly set up.

This command checks:
  - Binary location and permissions
  - The configured telemetry directory and its files
  - The otel-collector config, if one is configured
  - The settings database location
  - Optional dependencies (otel-cli)

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Explicit config file to check",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(version, cmd.String("config"))
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

type fsUtils interface {
	Executable() (string, error)
	Stat(name string) (os.FileInfo, error)
	ReadDir(name string) ([]os.DirEntry, error)
	UserHomeDir() (string, error)
	LookPath(file string) (string, error)
}

type realFsUtils struct{}

func (r *realFsUtils) Executable() (string, error)                { return os.Executable() }
func (r *realFsUtils) Stat(name string) (os.FileInfo, error)      { return os.Stat(name) }
func (r *realFsUtils) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }
func (r *realFsUtils) UserHomeDir() (string, error)               { return os.UserHomeDir() }
func (r *realFsUtils) LookPath(file string) (string, error)       { return exec.LookPath(file) }

func runDoctor(version, configPath string) error {
	cfg, err := LoadEffectiveConfig(configPath)
	if err != nil {
		cfg = DefaultConfig()
		fmt.Printf("⚠ Could not load config: %v\n\n", err)
	}
	return runDoctorWithUtils(version, cfg, &realFsUtils{})
}

func runDoctorWithUtils(version string, cfg *Config, utils fsUtils) error {
	fmt.Printf("🔍 otlp-tail doctor v%s\n\n", version)

	checks := []func(cfg *Config, utils fsUtils) checkResult{
		checkBinaryLocation,
		checkBinaryExecutable,
		checkTelemetryDir,
		checkOtelConfigFile,
		checkSettingsLocation,
		checkOtelCLI,
	}

	results := make([]checkResult, 0, len(checks))
	for _, check := range checks {
		result := check(cfg, utils)
		results = append(results, result)
		printCheckResult(result)
	}

	fmt.Println()
	summary := summarizeResults(results)
	printSummary(summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Printf("%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Printf("  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Printf("❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Printf("⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Printf("✅ All critical checks passed!\n")
		fmt.Printf("⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Printf("💡 Run 'otlp-tail view --dir <telemetry-dir>' to start watching\n")
	} else {
		fmt.Printf("✅ All checks passed!\n")
		fmt.Printf("💡 Run 'otlp-tail view --dir <telemetry-dir>' to start watching\n")
	}
}

func checkBinaryLocation(cfg *Config, utils fsUtils) checkResult {
	executable, err := utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_location",
			Status:     "fail",
			Message:    "Could not determine binary location",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	absPath, err := filepath.Abs(executable)
	if err != nil {
		absPath = executable
	}

	return checkResult{
		Name:    "binary_location",
		Status:  "pass",
		Message: fmt.Sprintf("Binary location: %s", absPath),
	}
}

func checkBinaryExecutable(cfg *Config, utils fsUtils) checkResult {
	executable, err := utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Could not check if binary is executable",
			IsCritical: true,
		}
	}

	info, err := utils.Stat(executable)
	if err != nil || info == nil {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Could not stat binary",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	if info.Mode()&0111 == 0 {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Binary is not executable",
			Suggestion: fmt.Sprintf("Run: chmod +x %s", executable),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "binary_executable",
		Status:  "pass",
		Message: "Binary is executable",
	}
}

// checkTelemetryDir verifies the configured directory exists and
// contains recognizable telemetry files.
func checkTelemetryDir(cfg *Config, utils fsUtils) checkResult {
	if cfg.Dir == "" {
		return checkResult{
			Name:       "telemetry_dir",
			Status:     "warn",
			Message:    "No telemetry directory configured",
			Suggestion: "Pass --dir, set \"dir\" in a config file, or use --otel-config",
		}
	}

	info, err := utils.Stat(cfg.Dir)
	if err != nil {
		return checkResult{
			Name:       "telemetry_dir",
			Status:     "fail",
			Message:    fmt.Sprintf("Telemetry directory not accessible: %s", cfg.Dir),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	if !info.IsDir() {
		return checkResult{
			Name:       "telemetry_dir",
			Status:     "fail",
			Message:    fmt.Sprintf("%s is not a directory", cfg.Dir),
			IsCritical: true,
		}
	}

	entries, err := utils.ReadDir(cfg.Dir)
	if err != nil {
		return checkResult{
			Name:       "telemetry_dir",
			Status:     "fail",
			Message:    fmt.Sprintf("Cannot list %s", cfg.Dir),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	recognized := 0
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".jsonl") || strings.Contains(name, ".jsonl.") {
			recognized++
		}
	}

	if recognized == 0 {
		return checkResult{
			Name:    "telemetry_dir",
			Status:  "warn",
			Message: fmt.Sprintf("Telemetry directory has no .jsonl files yet: %s", cfg.Dir),
			Suggestion: `The directory will be watched; files appear once the collector's
  file exporter writes its first batch.`,
		}
	}

	return checkResult{
		Name:    "telemetry_dir",
		Status:  "pass",
		Message: fmt.Sprintf("Telemetry directory: %s (%d telemetry files)", cfg.Dir, recognized),
	}
}

// checkOtelConfigFile parses the configured otel-collector config and
// reports the exporter directories it found.
func checkOtelConfigFile(cfg *Config, utils fsUtils) checkResult {
	if cfg.OtelConfig == "" {
		return checkResult{
			Name:    "otel_config",
			Status:  "pass",
			Message: "No otel-collector config configured (optional)",
		}
	}

	dirs, err := ParseOtelConfig(cfg.OtelConfig)
	if err != nil {
		return checkResult{
			Name:       "otel_config",
			Status:     "fail",
			Message:    fmt.Sprintf("Cannot parse otel-collector config: %s", cfg.OtelConfig),
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}
	if len(dirs) == 0 {
		return checkResult{
			Name:       "otel_config",
			Status:     "warn",
			Message:    fmt.Sprintf("No file exporters in %s", cfg.OtelConfig),
			Suggestion: `Add a "file/" exporter with a path, or pass --dir directly`,
		}
	}

	return checkResult{
		Name:    "otel_config",
		Status:  "pass",
		Message: fmt.Sprintf("Otel config exporters write to: %s", strings.Join(dirs, ", ")),
	}
}

// checkSettingsLocation verifies the settings database directory can be
// determined.
func checkSettingsLocation(cfg *Config, utils fsUtils) checkResult {
	path := cfg.SettingsPath
	if path == "" {
		home, err := utils.UserHomeDir()
		if err != nil {
			return checkResult{
				Name:       "settings_db",
				Status:     "warn",
				Message:    "Cannot determine home directory for the settings database",
				Suggestion: "Preferences will not persist. Pass --settings <path> to fix.",
			}
		}
		path = filepath.Join(home, ".config", "otlp-tail", "settings.db")
	}

	return checkResult{
		Name:    "settings_db",
		Status:  "pass",
		Message: fmt.Sprintf("Settings database: %s", path),
	}
}

// checkOtelCLI looks for otel-cli, handy for generating test telemetry.
func checkOtelCLI(cfg *Config, utils fsUtils) checkResult {
	path, err := utils.LookPath("otel-cli")
	if err == nil {
		return checkResult{
			Name:    "otel_cli",
			Status:  "pass",
			Message: fmt.Sprintf("Optional: otel-cli found at %s", path),
		}
	}

	return checkResult{
		Name:    "otel_cli",
		Status:  "warn",
		Message: "Optional: otel-cli not found",
		Suggestion: `otel-cli is useful for generating test telemetry but not required.
  Install with: go install github.com/tobert/otel-cli@latest`,
	}
}
