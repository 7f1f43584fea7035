package backend

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"golang.org/x/sync/semaphore"
)

const (
	// NameProcess identifies the out-of-process backend
	NameProcess = "process"

	// RunnerEnv overrides the runner binary
	RunnerEnv = "EMBER_RUNNER"

	// DefaultRunner is the bundled runner binary name
	DefaultRunner = "ember-runner"

	stderrTailBytes = 4096
)

type ProcessOptions struct {
	// Runner binary; see ResolveRunnerPath
	RunnerPath string
	// Concurrent children
	MaxChildren int
	// Largest response a child may write
	MaxOutputBytes int64
	// Time allowed for a killed child's pipes to drain
	WaitDelay time.Duration
	// Extra environment for every child, on top of the host's
	Env []string
}

// Process runs every invocation in a fresh child process. A crashing child
// takes nothing else down with it.
type Process struct {
	runner    string
	slots     *semaphore.Weighted
	capacity  int64
	maxOutput int64
	waitDelay time.Duration
	env       []string
	logger    logging.Logger

	children atomic.Int64
	closed   atomic.Bool
}

func NewProcess(logger logging.Logger, options ProcessOptions) *Process {
	if options.MaxChildren <= 0 {
		options.MaxChildren = 32
	}
	if options.MaxOutputBytes <= 0 {
		options.MaxOutputBytes = 16 << 20
	}

	runner, err := ResolveRunnerPath(options.RunnerPath)
	if err != nil {
		logger.Errorf("No runner found, invocations will fail: %v", err)
		runner = DefaultRunner
	}
	logger.Printf("Process backend using runner %s (max %d children)", runner, options.MaxChildren)

	var env []string
	if len(options.Env) > 0 {
		env = append(os.Environ(), options.Env...)
	}

	return &Process{
		runner:    runner,
		slots:     semaphore.NewWeighted(int64(options.MaxChildren)),
		capacity:  int64(options.MaxChildren),
		maxOutput: options.MaxOutputBytes,
		waitDelay: options.WaitDelay,
		env:       env,
		logger:    logger,
	}
}

// ResolveRunnerPath picks the runner binary: the configured path, then
// $EMBER_RUNNER, then ember-runner next to the host executable, then $PATH.
func ResolveRunnerPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if fromEnv := os.Getenv(RunnerEnv); fromEnv != "" {
		return fromEnv, nil
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), DefaultRunner)
		if info, err := os.Stat(sibling); err == nil && info.Mode().IsRegular() {
			return sibling, nil
		}
	}
	return exec.LookPath(DefaultRunner)
}

func (b *Process) Name() string {
	return NameProcess
}

// Runner returns the runner binary in use.
func (b *Process) Runner() string {
	return b.runner
}

// Children returns the number of running children.
func (b *Process) Children() int64 {
	return b.children.Load()
}

func (b *Process) Load(ctx context.Context, _ artifact.Reference, loc artifact.Location) (artifact.Module, error) {
	return artifact.LoadExecutable(ctx, loc)
}

func (b *Process) Invoke(ctx context.Context, h *components.Handle, request []byte) ([]byte, error) {
	exe, ok := h.Module().(*artifact.Executable)
	if !ok {
		return nil, faulted(h, "Module cannot be run by a child process", nil, nil)
	}

	if b.closed.Load() {
		return nil, exhausted(h, "Backend is closed", nil)
	}
	if err := b.slots.Acquire(ctx, 1); err != nil {
		return nil, timedOut(h, err)
	}
	defer b.slots.Release(1)

	stdout := &limitedBuffer{max: b.maxOutput}
	stderr := &tailBuffer{max: stderrTailBytes}

	cmd := exec.CommandContext(ctx, b.runner, RunnerArgs(exe.Location)...)
	cmd.Stdin = bytes.NewReader(request)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = b.env
	cmd.WaitDelay = b.waitDelay

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, timedOut(h, ctx.Err())
		}
		b.logger.Errorf("Failed to spawn runner %s for %s: %v", b.runner, h.Ref(), err)
		return nil, exhausted(h, "Failed to spawn child", err)
	}
	b.children.Add(1)
	start := time.Now()
	err := cmd.Wait()
	b.children.Add(-1)

	if ctx.Err() != nil {
		b.logger.Debugf("Killed child %d for %s after %s", cmd.Process.Pid, h.Ref(), time.Since(start))
		return nil, timedOut(h, ctx.Err())
	}

	details := map[string]interface{}{}
	if tail := stderr.String(); tail != "" {
		details[DetailStderr] = tail
	}
	if cmd.ProcessState != nil {
		details[DetailExitCode] = cmd.ProcessState.ExitCode()
	}

	if stdout.overflow {
		return nil, faulted(h, fmt.Sprintf("Child output exceeds %d bytes", b.maxOutput), errOutputTooLarge, details)
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return nil, faulted(h, "Child exited abnormally", err, details)
	}
	if err != nil {
		return nil, faulted(h, "Child failed", err, details)
	}
	if stdout.Len() == 0 {
		return nil, faulted(h, "Child produced no output", artifact.ErrNoOutput, details)
	}
	return stdout.Bytes(), nil
}

// RunnerArgs is the runner command line for loc.
func RunnerArgs(loc artifact.Location) []string {
	abi := loc.ABI
	if abi == "" {
		abi = artifact.ABIRaw
	}
	args := []string{"--abi", string(abi)}
	if loc.EnableWASI {
		args = append(args, "--wasi")
	}
	for _, host := range loc.AllowedHosts {
		args = append(args, "--allow-host", host)
	}

	keys := make([]string, 0, len(loc.Config))
	for k := range loc.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--config", k+"="+loc.Config[k])
	}

	return append(args, loc.Path)
}

// Close refuses new invocations and waits for running children to exit.
func (b *Process) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.slots.Acquire(ctx, b.capacity)
}

var errOutputTooLarge = stderrors.New("output limit exceeded")

// limitedBuffer fails writes past max so the child sees a broken pipe.
type limitedBuffer struct {
	bytes.Buffer
	max      int64
	overflow bool
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	if int64(w.Len()+len(p)) > w.max {
		w.overflow = true
		return 0, errOutputTooLarge
	}
	return w.Buffer.Write(p)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (w *tailBuffer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailBuffer) String() string {
	return strings.TrimSpace(string(w.buf))
}
