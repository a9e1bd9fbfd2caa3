package main

import (
	"fmt"
	"os"
	"time"

	"rechub/internal/runner/verify"
)

// The runner configures itself from the environment so it can be
// dropped onto a machine next to the game installation with nothing
// but a shell profile.
type RunnerConfig struct {
	RecverifyPath string
	GamePath      string
	OS            string
	Server        string
	Username      string
	Password      string

	WorkDir string
	Timeout time.Duration
}

func loadRunnerConfig() (*RunnerConfig, error) {
	cfg := &RunnerConfig{}

	required := []struct {
		env  string
		dest *string
	}{
		{"RUNNER_RECVERIFY_PATH", &cfg.RecverifyPath},
		{"RUNNER_MBG_PATH", &cfg.GamePath},
		{"RUNNER_OS", &cfg.OS},
		{"RUNNER_SERVER", &cfg.Server},
		{"RUNNER_USERNAME", &cfg.Username},
		{"RUNNER_PASSWORD", &cfg.Password},
	}
	for _, item := range required {
		value := os.Getenv(item.env)
		if value == "" {
			return nil, fmt.Errorf("%s is required", item.env)
		}
		*item.dest = value
	}

	if !verify.KnownPlatform(cfg.OS) {
		return nil, fmt.Errorf("RUNNER_OS must be one of windows, mac, wine; got %q", cfg.OS)
	}

	cfg.WorkDir = os.Getenv("RUNNER_WORK_DIR")
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}

	cfg.Timeout = verify.DefaultTimeout
	if raw := os.Getenv("RUNNER_VERIFY_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("RUNNER_VERIFY_TIMEOUT: %w", err)
		}
		cfg.Timeout = timeout
	}

	return cfg, nil
}
