package subprocess_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/errkind"
	"github.com/hatago/gateway/internal/subprocess"
)

// TestMain lets this test binary double as its own helper subprocess,
// mirroring the stdlib's os/exec test idiom (GO_WANT_HELPER_PROCESS):
// internal/subprocess supervises externally launched processes, so the most
// faithful fixture for "a child MCP server that crashes" is this very binary
// re-invoked with an env var flag.
func TestMain(m *testing.M) {
	if os.Getenv("HATAGO_WANT_HELPER_PROCESS") == "1" {
		runHelperProcess()
		return
	}
	os.Exit(m.Run())
}

// runHelperProcess serves a minimal stdio MCP server. A counter file
// (shared across re-spawns, since each restart is a fresh process) tracks
// how many times it has been launched; while that count is within
// HATAGO_HELPER_CRASH_UNTIL, it exits non-zero shortly after completing the
// initialize handshake, simulating spec §4.5 scenario 6's repeated crash.
// Past that count it just serves until stdin closes.
func runHelperProcess() {
	counterFile := os.Getenv("HATAGO_HELPER_COUNTER_FILE")
	crashUntil, _ := strconv.Atoi(os.Getenv("HATAGO_HELPER_CRASH_UNTIL"))

	count := 0
	if data, err := os.ReadFile(counterFile); err == nil {
		count, _ = strconv.Atoi(string(data))
	}
	count++
	_ = os.WriteFile(counterFile, []byte(strconv.Itoa(count)), 0o600)

	if count <= crashUntil {
		go func() {
			time.Sleep(150 * time.Millisecond)
			os.Exit(1)
		}()
	}

	s := server.NewMCPServer("helper", "0.0.1")
	_ = server.ServeStdio(s)
	os.Exit(0)
}

func collectEvents() (*sync.Mutex, *[]subprocess.Event, subprocess.EventFunc) {
	var mu sync.Mutex
	var events []subprocess.Event
	return &mu, &events, func(e subprocess.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
}

func TestProcessStartAndStopRunsToCompletion(t *testing.T) {
	launch := &config.LaunchCommand{
		Command: os.Args[0],
		Env:     map[string]string{"HATAGO_WANT_HELPER_PROCESS": "1", "HATAGO_HELPER_COUNTER_FILE": filepath.Join(t.TempDir(), "count"), "HATAGO_HELPER_CRASH_UNTIL": "0"},
	}
	_, _, onEvent := collectEvents()

	p := subprocess.New("fixture-clean", launch, subprocess.Options{GracefulTimeout: time.Second}, onEvent, slog.Default())

	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, subprocess.StateRunning, p.State())
	require.NotNil(t, p.Client())

	require.NoError(t, p.Stop(context.Background()))
	require.Equal(t, subprocess.StateStopped, p.State())
}

func TestProcessStartFailureOnMissingCommand(t *testing.T) {
	launch := &config.LaunchCommand{Command: "hatago-definitely-not-a-real-binary"}
	_, _, onEvent := collectEvents()

	p := subprocess.New("fixture-missing", launch, subprocess.Options{}, onEvent, slog.Default())

	err := p.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, subprocess.StateFailed, p.State())
}

// TestProcessRestartsAfterCrashAndStopsAtLimit exercises spec §4.5 /
// scenario 6: a child that keeps crashing after the handshake is restarted
// up to maxRestarts, then the supervisor gives up with restart_limit_reached
// instead of looping forever.
func TestProcessRestartsAfterCrashAndStopsAtLimit(t *testing.T) {
	counterFile := filepath.Join(t.TempDir(), "count")
	launch := &config.LaunchCommand{
		Command: os.Args[0],
		Env: map[string]string{
			"HATAGO_WANT_HELPER_PROCESS": "1",
			"HATAGO_HELPER_COUNTER_FILE": counterFile,
			"HATAGO_HELPER_CRASH_UNTIL":  "3", // crashes every launch in this test
		},
	}
	mu, events, onEvent := collectEvents()

	opts := subprocess.Options{
		RestartOnFailure: true,
		MaxRestarts:      2,
		Cooldown:         50 * time.Millisecond,
		GracefulTimeout:  time.Second,
	}
	p := subprocess.New("fixture-crashy", launch, opts, onEvent, slog.Default())

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	kindCount := func(kind subprocess.EventKind) int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, e := range *events {
			if e.Kind == kind {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool {
		return kindCount(subprocess.EventRestart) >= 2
	}, 3*time.Second, 20*time.Millisecond, "expected two restart attempts before the limit is reached")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range *events {
			if e.Kind != subprocess.EventError || e.Err == nil {
				continue
			}
			if kind, ok := errkind.Of(e.Err); ok && kind == errkind.RestartLimitReached {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "expected a restart_limit_reached error once maxRestarts is exceeded")
}

func TestRestartBackoffDefaults(t *testing.T) {
	b := subprocess.RestartBackoff(0, 0, 0)
	require.Equal(t, 3, b.Steps)
	require.Equal(t, time.Second, b.Duration)
	require.Equal(t, 30*time.Second, b.Cap)
}
