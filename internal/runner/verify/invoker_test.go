package verify

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestInvoker(t *testing.T, platform string) *Invoker {
	t.Helper()
	inv, err := NewInvoker(platform, "/opt/mb/recverify", "/opt/mb", time.Minute)
	if err != nil {
		t.Fatalf("NewInvoker(%q) error = %v", platform, err)
	}
	return inv
}

func TestNewInvokerRejectsUnknownPlatform(t *testing.T) {
	if _, err := NewInvoker("solaris", "/opt/mb/recverify", "/opt/mb", 0); err == nil {
		t.Fatal("NewInvoker should reject unknown platforms")
	}
}

func TestInvokerCommand(t *testing.T) {
	tests := []struct {
		platform string
		wantName string
		wantArgs []string
	}{
		{PlatformWindows, "/opt/mb/recverify", []string{"--auto", "/tmp/run.rec"}},
		{PlatformMac, "/opt/mb/recverify", []string{"--auto", "/tmp/run.rec"}},
		{PlatformWine, "wine", []string{"/opt/mb/recverify", "--auto", "/tmp/run.rec"}},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			inv := newTestInvoker(t, tt.platform)
			name, args := inv.Command("/tmp/run.rec")
			if name != tt.wantName {
				t.Errorf("command name = %q, want %q", name, tt.wantName)
			}
			if strings.Join(args, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("command args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestVerifyRunsToolInGameDir(t *testing.T) {
	inv := newTestInvoker(t, PlatformWindows)

	var gotName, gotDir string
	var gotArgs []string
	inv.execute = func(_ context.Context, name string, args []string, dir string) (string, int, error) {
		gotName, gotArgs, gotDir = name, args, dir
		return successOutput, 0, nil
	}

	outcome, err := inv.Verify(context.Background(), "/tmp/run.rec")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if outcome.Score == nil || !outcome.Score.Success {
		t.Error("Verify() should parse the tool report")
	}
	if gotName != "/opt/mb/recverify" {
		t.Errorf("executed %q", gotName)
	}
	if gotDir != "/opt/mb" {
		t.Errorf("working directory = %q, want game dir", gotDir)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "--auto" {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestRunCommandCapturesStderr(t *testing.T) {
	out, code, err := runCommand(context.Background(), "sh",
		[]string{"-c", "echo partial report; echo err:0009 dlls missing >&2; exit 3"}, t.TempDir())
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if !strings.Contains(out, "partial report") {
		t.Errorf("output %q lost stdout", out)
	}
	if !strings.Contains(out, "err:0009 dlls missing") {
		t.Errorf("output %q lost stderr diagnostics", out)
	}
}

func TestVerifyMacVersionGate(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"10.13.6", false},
		{"10.14.6", false},
		{"10.15", true},
		{"10.15.7", true},
		{"11.2", true},
		{"14.4.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			inv := newTestInvoker(t, PlatformMac)
			inv.macVersion = func() (string, error) { return tt.version, nil }
			inv.execute = func(context.Context, string, []string, string) (string, int, error) {
				return successOutput, 0, nil
			}

			_, err := inv.Verify(context.Background(), "/tmp/run.rec")
			if tt.wantErr && err == nil {
				t.Errorf("Verify() on macOS %s should fail", tt.version)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Verify() on macOS %s error = %v", tt.version, err)
			}
		})
	}
}
