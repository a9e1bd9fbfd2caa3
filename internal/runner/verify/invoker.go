package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Platforms the verification tool can run on. Linux hosts run the
// Windows build under wine.
const (
	PlatformWindows = "windows"
	PlatformMac     = "mac"
	PlatformWine    = "wine"
)

// DefaultTimeout bounds one playback. Long recordings replay in real
// time, so this is generous.
const DefaultTimeout = 10 * time.Minute

// ErrTimeout reports that a playback exceeded the invoker timeout.
var ErrTimeout = errors.New("verification timed out")

// KnownPlatform reports whether the label names a supported platform.
func KnownPlatform(platform string) bool {
	switch platform {
	case PlatformWindows, PlatformMac, PlatformWine:
		return true
	}
	return false
}

// Invoker runs the verification tool against recording files and
// parses its report.
type Invoker struct {
	platform      string
	recverifyPath string
	gameDir       string
	timeout       time.Duration

	// Injection points for tests.
	execute    func(ctx context.Context, name string, args []string, dir string) (string, int, error)
	macVersion func() (string, error)
}

// NewInvoker creates an invoker for the given platform. gameDir is
// the game installation the tool expects as working directory.
func NewInvoker(platform, recverifyPath, gameDir string, timeout time.Duration) (*Invoker, error) {
	if !KnownPlatform(platform) {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	if recverifyPath == "" {
		return nil, errors.New("recverify path is required")
	}
	if gameDir == "" {
		return nil, errors.New("game directory is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{
		platform:      platform,
		recverifyPath: recverifyPath,
		gameDir:       gameDir,
		timeout:       timeout,
		execute:       runCommand,
		macVersion:    macProductVersion,
	}, nil
}

// Command returns the executable and arguments that verify the given
// recording, without running anything.
func (i *Invoker) Command(recordingPath string) (string, []string) {
	if i.platform == PlatformWine {
		return "wine", []string{i.recverifyPath, "--auto", recordingPath}
	}
	return i.recverifyPath, []string{"--auto", recordingPath}
}

// Verify plays back a recording and parses the tool's report. The
// returned Outcome distinguishes playback verdicts from tool errors;
// a non-nil error means the attempt itself is unusable.
func (i *Invoker) Verify(ctx context.Context, recordingPath string) (*Outcome, error) {
	if i.platform == PlatformMac {
		if err := i.checkMacSupported(); err != nil {
			return nil, err
		}
	}

	absPath, err := filepath.Abs(recordingPath)
	if err != nil {
		return nil, fmt.Errorf("resolve recording path: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	name, args := i.Command(absPath)
	stdout, exitCode, err := i.execute(ctx, name, args, i.gameDir)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return Parse(stdout, exitCode), nil
}

// The native mac build stopped working when Catalina dropped 32-bit
// support.
func (i *Invoker) checkMacSupported() error {
	version, err := i.macVersion()
	if err != nil {
		return fmt.Errorf("probe macOS version: %w", err)
	}
	major, minor := parseMacVersion(version)
	if major > 10 || (major == 10 && minor >= 15) {
		return fmt.Errorf("Cannot run Marble Blast natively on macOS >= Catalina (got %s)", version)
	}
	return nil
}

func parseMacVersion(version string) (major, minor int) {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

func macProductVersion() (string, error) {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// runCommand executes the tool and captures its output. A non-zero
// exit is not an error here, it is part of the tool's report; stderr
// is appended so crash diagnostics survive into the report text.
func runCommand(ctx context.Context, name string, args []string, dir string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String() + stderr.String(), exitErr.ExitCode(), nil
		}
		return "", 0, err
	}
	return stdout.String(), 0, nil
}
