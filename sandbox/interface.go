package sandbox

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/isdmx/codecrate/config"
)

// Errors reported by the sandbox layer.
var (
	ErrImageUnavailable   = errors.New("image unavailable")
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

// Reasons recorded on a RawResult when the sandbox could not run to completion.
const (
	ReasonCancelled = "execution cancelled"
)

// Container naming and labelling
const (
	ContainerPrefix = "codecrate-"
	LabelKey        = "app"
	LabelValue      = "codecrate"
)

// File permission and size constants
const (
	BytesPerKB = 1024
	BytesPerMB = 1024 * 1024

	cleanupTimeout = 10 * time.Second
)

// Limits are the process-wide ceilings applied to every sandbox.
type Limits struct {
	MemoryBytes      int64
	CPUs             float64
	WallClock        time.Duration
	PidsLimit        int64
	MaxOutputBytes   int
	Workdir          string
	WorkdirSizeBytes int64
	User             string
}

// WallClockSeconds is the wall-clock ceiling rounded up to whole seconds.
func (l Limits) WallClockSeconds() int {
	return int((l.WallClock + time.Second - 1) / time.Second)
}

// NewLimits projects the sandbox section of the configuration.
func NewLimits(cfg *config.Config) Limits {
	return Limits{
		MemoryBytes:      int64(cfg.Sandbox.MemoryMB) * BytesPerMB,
		CPUs:             cfg.Sandbox.CPUs,
		WallClock:        cfg.GetTimeout(),
		PidsLimit:        cfg.Sandbox.PidsLimit,
		MaxOutputBytes:   cfg.Sandbox.MaxOutputKB * BytesPerKB,
		Workdir:          cfg.Sandbox.Workdir,
		WorkdirSizeBytes: int64(cfg.Sandbox.WorkdirSizeMB) * BytesPerMB,
		User:             cfg.Sandbox.User,
	}
}

// RunRequest describes one sandboxed execution.
type RunRequest struct {
	Image  string
	Argv   []string
	Env    map[string]string
	Limits Limits
}

// RawResult is what a single sandbox run produced. Exactly one of a normal
// exit, TimedOut or LaunchFailed holds; ExitCode is meaningful only for a
// normal exit.
type RawResult struct {
	ExitCode     int
	Stdout       []byte
	Stderr       []byte
	TimedOut     bool
	LaunchFailed bool
	Reason       string
}

func launchFailure(reason string, err error) RawResult {
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	return RawResult{ExitCode: -1, LaunchFailed: true, Reason: reason}
}

// ImageStore answers and fills the local image cache.
type ImageStore interface {
	ImagePresent(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) error
}

// Engine is an isolation backend. Run never returns an error; every failure
// is folded into the RawResult.
type Engine interface {
	ImageStore
	Ping(ctx context.Context) error
	Run(ctx context.Context, req RunRequest) RawResult
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands.
// Captured streams are capped at MaxOutputBytes each when it is positive.
type RealCommandRunner struct {
	MaxOutputBytes int
}

// RunCommand executes the given command with arguments. A non-zero exit is
// reported through exitCode, not err.
func (r RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, errors.New("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // argv is built by this package, never by a shell
	cmd.WaitDelay = 2 * time.Second

	stdoutBuf := newBoundedBuffer(r.MaxOutputBytes)
	stderrBuf := newBoundedBuffer(r.MaxOutputBytes)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	err = cmd.Run()

	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return "", "", 0, err
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// tmpfsOptions mounts the workdir world-writable so an unprivileged user can
// write and execute there.
func tmpfsOptions(l Limits) string {
	return fmt.Sprintf("rw,exec,nosuid,nodev,size=%d,mode=1777", l.WorkdirSizeBytes)
}

func containerName() string {
	return ContainerPrefix + uuid.NewString()
}

func sortedEnv(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
