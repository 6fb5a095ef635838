// Package subprocess implements the gateway's C5 component: spawning,
// observing, stopping and restarting upstream MCP servers launched as
// child processes (spec §4.5).
//
// Grounded on other_examples/6b0875f2_hkdb-otui__mcp-process.go.go's
// ProcessManager/createLocalClient (the cmdFunc capture idiom used to get
// at the *exec.Cmd mark3labs/mcp-go's stdio transport hides behind
// client.NewStdioMCPClientWithOptions) and on kagenti-mcp-gateway's
// cmd/mcp-broker-router/main.go graceful-then-forceful shutdown shape.
package subprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/errkind"
)

// State is one point in spec §4.5's state machine:
// starting -> running -> stopping -> stopped, with any state able to fall
// to failed on unexpected exit.
type State string

// The subprocess lifecycle states spec §4.5 names.
const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// EventKind names the event stream spec §4.5 requires the supervisor to
// emit: state-change, output, error, restart.
type EventKind string

// The event kinds spec §4.5 names.
const (
	EventStateChange EventKind = "state-change"
	EventOutput      EventKind = "output"
	EventError       EventKind = "error"
	EventRestart     EventKind = "restart"
)

// Event is one entry on a Process's event stream.
type Event struct {
	Kind         EventKind
	ServerID     string
	State        State
	Line         string // EventOutput: one line of stderr text
	Err          error  // EventError
	RestartCount int    // EventRestart
}

// EventFunc receives Process events in emission order. Implementations
// must not block; the caller invokes it synchronously from the
// supervisor's goroutines.
type EventFunc func(Event)

// Options configures restart and shutdown behaviour for one Process.
type Options struct {
	RestartOnFailure bool
	MaxRestarts      int
	Cooldown         time.Duration // delay before a restart attempt
	GracefulTimeout  time.Duration // grace period between SIGTERM and SIGKILL
	GatewayName      string        // stamped into HATAGO_GATEWAY env marker
}

func (o Options) withDefaults() Options {
	if o.Cooldown <= 0 {
		o.Cooldown = time.Second
	}
	if o.GracefulTimeout <= 0 {
		o.GracefulTimeout = 5 * time.Second
	}
	if o.GatewayName == "" {
		o.GatewayName = "hatago"
	}
	return o
}

// Process supervises one launched child MCP server: spawn, stdio MCP
// client, restart after a fixed cool-down, graceful-then-forceful stop.
type Process struct {
	id     string
	launch *config.LaunchCommand
	opts   Options
	onCh   EventFunc
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	mcpClient *client.Client
	restarts  int
	stopping  bool
}

// New constructs a Process for the given launch command. It does not spawn
// until Start is called.
func New(id string, launch *config.LaunchCommand, opts Options, onEvent EventFunc, logger *slog.Logger) *Process {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Process{
		id:     id,
		launch: launch,
		opts:   opts.withDefaults(),
		onCh:   onEvent,
		logger: logger,
		state:  StateStopped,
	}
}

// ID returns the upstream server id this Process supervises.
func (p *Process) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Client returns the connected MCP client, or nil if not running.
func (p *Process) Client() *client.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mcpClient
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.onCh(Event{Kind: EventStateChange, ServerID: p.id, State: s})
}

// Start spawns the child process, performs the MCP initialize handshake
// over stdio, and begins supervising the process for unexpected exit.
func (p *Process) Start(ctx context.Context) error {
	p.setState(StateStarting)

	env := buildEnv(p.launch.Env, p.opts.GatewayName, p.id)

	var capturedCmd *exec.Cmd
	var stderrPipe io.ReadCloser
	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		pr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
		stderrPipe = pr
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		p.launch.Command,
		env,
		p.launch.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		p.setState(StateFailed)
		return errkind.Wrap(errkind.SpawnFailed, fmt.Sprintf("failed to spawn subprocess %s", p.id), err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      mcp.Implementation{Name: p.opts.GatewayName, Version: "0.1.0"},
		},
	}); err != nil {
		_ = mcpClient.Close()
		p.setState(StateFailed)
		return errkind.Wrap(errkind.SpawnFailed, fmt.Sprintf("failed to initialize subprocess %s", p.id), err)
	}

	p.mu.Lock()
	p.cmd = capturedCmd
	p.mcpClient = mcpClient
	p.stopping = false
	p.mu.Unlock()

	if stderrPipe != nil {
		go p.forwardStderr(stderrPipe)
	}
	go p.watch(ctx)

	p.setState(StateRunning)
	return nil
}

// forwardStderr emits each stderr line as an EventOutput without buffering
// beyond line boundaries (spec §4.5).
func (p *Process) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.onCh(Event{Kind: EventOutput, ServerID: p.id, Line: scanner.Text()})
	}
}

// watch blocks on the child exiting and reacts: a requested stop settles
// into stopped, anything else is an unexpected exit that falls to failed
// and, if configured, schedules a restart.
func (p *Process) watch(ctx context.Context) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return
	}

	err := cmd.Wait()

	p.mu.Lock()
	requested := p.stopping
	p.mu.Unlock()

	if requested {
		p.setState(StateStopped)
		return
	}

	p.onCh(Event{Kind: EventError, ServerID: p.id, Err: err})
	p.setState(StateFailed)

	if !p.opts.RestartOnFailure {
		return
	}
	p.scheduleRestart(ctx)
}

// scheduleRestart waits the cool-down and respawns, bounded by
// opts.MaxRestarts (spec §4.5, scenario 6).
func (p *Process) scheduleRestart(ctx context.Context) {
	p.mu.Lock()
	p.restarts++
	count := p.restarts
	p.mu.Unlock()

	if count > p.opts.MaxRestarts {
		p.onCh(Event{Kind: EventError, ServerID: p.id, Err: errkind.New(errkind.RestartLimitReached, fmt.Sprintf("subprocess %s exceeded maxRestarts=%d", p.id, p.opts.MaxRestarts))})
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(p.opts.Cooldown):
	}

	p.onCh(Event{Kind: EventRestart, ServerID: p.id, RestartCount: count})
	if err := p.Start(ctx); err != nil {
		p.logger.Error("subprocess: restart failed", "server", p.id, "attempt", count, "error", err)
	}
}

// Stop sends a polite termination signal, waits the configured grace
// period, and escalates to a forceful kill if the process has not exited
// (spec §4.5's stop flow).
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopping = true
	cmd := p.cmd
	mcpClient := p.mcpClient
	p.mu.Unlock()

	p.setState(StateStopping)

	if mcpClient != nil {
		closeCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		closeDone := make(chan error, 1)
		go func() { closeDone <- mcpClient.Close() }()
		select {
		case <-closeDone:
		case <-closeCtx.Done():
		}
	}

	if cmd == nil || cmd.Process == nil {
		p.setState(StateStopped)
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn("subprocess: SIGTERM failed, killing", "server", p.id, "error", err)
		_ = cmd.Process.Kill()
		p.setState(StateStopped)
		return nil
	}

	timer := time.NewTimer(p.opts.GracefulTimeout)
	defer timer.Stop()
	exited := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-timer.C:
		p.logger.Warn("subprocess: graceful timeout elapsed, sending SIGKILL", "server", p.id)
		_ = cmd.Process.Kill()
	}

	p.setState(StateStopped)
	return nil
}

// buildEnv merges the process environment with the launch-declared
// overrides plus the gateway/server-id marker variables spec §4.5
// requires ("marker variables identifying the gateway and the server id").
func buildEnv(extra map[string]string, gatewayName, serverID string) []string {
	env := os.Environ()
	env = append(env, "HATAGO_GATEWAY="+gatewayName, "HATAGO_SERVER_ID="+serverID)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// RestartBackoff builds a wait.Backoff schedule usable by callers that want
// to retry a failed Start (as opposed to the built-in fixed-cooldown
// restart loop), adapted from internal/upstream.Backoff.
func RestartBackoff(steps int, duration, cap time.Duration) wait.Backoff {
	if steps <= 0 {
		steps = 3
	}
	if duration <= 0 {
		duration = time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	return wait.Backoff{Duration: duration, Factor: 2, Steps: steps, Cap: cap}
}
