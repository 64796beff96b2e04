package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// inspectStateFormat asks podman for the status and exit code of a container.
const inspectStateFormat = "{{.State.Status}} {{.State.ExitCode}}"

// PodmanEngine implements Engine by driving the podman CLI.
type PodmanEngine struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
}

var _ Engine = (*PodmanEngine)(nil)

// PodmanEngineOption defines a functional option for PodmanEngine
type PodmanEngineOption func(*PodmanEngine)

// WithPodmanCommandRunner sets the CommandRunner for PodmanEngine
func WithPodmanCommandRunner(cmdRunner CommandRunner) PodmanEngineOption {
	return func(p *PodmanEngine) {
		p.cmdRunner = cmdRunner
	}
}

// WithPodmanBinary sets the podman executable name or path
func WithPodmanBinary(binary string) PodmanEngineOption {
	return func(p *PodmanEngine) {
		p.binary = binary
	}
}

// NewPodmanEngine creates a PodmanEngine. Captured output is capped at
// maxOutputBytes per stream.
func NewPodmanEngine(logger *zap.Logger, maxOutputBytes int, opts ...PodmanEngineOption) *PodmanEngine {
	engine := &PodmanEngine{
		logger:    logger,
		binary:    "podman",
		cmdRunner: RealCommandRunner{MaxOutputBytes: maxOutputBytes},
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Ping checks that podman can reach its storage and runtime.
func (p *PodmanEngine) Ping(ctx context.Context) error {
	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "info", "--format", "{{.Host.Arch}}"})
	if err != nil {
		return fmt.Errorf("podman unavailable: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("podman unavailable: exit %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// ImagePresent reports whether ref is in local storage.
func (p *PodmanEngine) ImagePresent(ctx context.Context, ref string) (bool, error) {
	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "image", "exists", ref})
	if err != nil {
		return false, err
	}
	switch exitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("podman image exists: exit %d: %s", exitCode, strings.TrimSpace(stderr))
	}
}

// PullImage pulls ref into local storage.
func (p *PodmanEngine) PullImage(ctx context.Context, ref string) error {
	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "pull", "--quiet", ref})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("podman pull: exit %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// Run executes req in a new container. The container is created first so
// that podman's own failures are told apart from the program's exit status,
// then started attached, then inspected for the real exit code.
func (p *PodmanEngine) Run(ctx context.Context, req RunRequest) RawResult {
	if len(req.Argv) == 0 {
		return launchFailure("empty command", nil)
	}

	name := containerName()
	logger := p.logger.With(zap.String("container", name), zap.String("image", req.Image))

	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, p.createArgs(name, req))
	if ctx.Err() != nil {
		p.remove(logger, name)
		return launchFailure(ReasonCancelled, ctx.Err())
	}
	if err != nil {
		return launchFailure("create container", err)
	}
	if exitCode != 0 {
		return launchFailure("create container", errors.New(strings.TrimSpace(stderr)))
	}
	defer p.remove(logger, name)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := startWatchdog(req.Limits.WallClock, func() {
		logger.Warn("wall-clock limit reached, killing container", zap.Duration("limit", req.Limits.WallClock))
		p.kill(logger, name)
		cancel()
	})

	stdout, stderr, _, err := p.cmdRunner.RunCommand(runCtx, []string{p.binary, "start", "--attach", name})

	if wd.Stop() {
		return RawResult{ExitCode: -1, Stdout: []byte(stdout), Stderr: []byte(stderr), TimedOut: true}
	}
	if ctx.Err() != nil {
		return launchFailure(ReasonCancelled, ctx.Err())
	}
	if err != nil {
		return launchFailure("start container", err)
	}

	exitCode, err = p.exitCode(name)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return launchFailure("start container", err)
	}

	return RawResult{ExitCode: exitCode, Stdout: []byte(stdout), Stderr: []byte(stderr)}
}

// exitCode reads the recorded exit status of a finished container. A
// container that never left the created state did not run at all.
func (p *PodmanEngine) exitCode(name string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "container", "inspect", "--format", inspectStateFormat, name})
	if err != nil {
		return -1, err
	}
	if exitCode != 0 {
		return -1, fmt.Errorf("podman inspect: exit %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	status, code, ok := strings.Cut(strings.TrimSpace(stdout), " ")
	if !ok {
		return -1, fmt.Errorf("unexpected container state %q", stdout)
	}
	switch status {
	case "exited", "stopped":
	default:
		return -1, fmt.Errorf("container did not run, state %s", status)
	}

	n, err := strconv.Atoi(code)
	if err != nil {
		return -1, fmt.Errorf("unexpected exit code %q: %w", code, err)
	}
	return n, nil
}

func (p *PodmanEngine) createArgs(name string, req RunRequest) []string {
	limits := req.Limits
	args := []string{
		p.binary, "create",
		"--name", name,
		"--pull", "never",
		"--network", "none",
		"--memory", strconv.FormatInt(limits.MemoryBytes, 10),
		"--memory-swap", strconv.FormatInt(limits.MemoryBytes, 10),
		"--cpus", strconv.FormatFloat(limits.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.FormatInt(limits.PidsLimit, 10),
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--tmpfs", limits.Workdir + ":" + tmpfsOptions(limits),
		"--workdir", limits.Workdir,
		"--label", LabelKey + "=" + LabelValue,
	}

	if limits.User != "" {
		args = append(args, "--user", limits.User)
	}

	for _, kv := range sortedEnv(req.Env) {
		args = append(args, "-e", kv)
	}

	args = append(args, "--entrypoint", req.Argv[0], req.Image)
	return append(args, req.Argv[1:]...)
}

func (p *PodmanEngine) kill(logger *zap.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "kill", "--signal", "KILL", name})
	if err != nil || exitCode != 0 {
		logger.Debug("podman kill did not succeed", zap.Int("exit_code", exitCode), zap.String("stderr", stderr), zap.Error(err))
	}
}

// remove deletes the container whatever state it is in.
func (p *PodmanEngine) remove(logger *zap.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "rm", "--force", "--ignore", name})
	if err != nil || exitCode != 0 {
		logger.Error("failed to remove container", zap.Int("exit_code", exitCode), zap.String("stderr", stderr), zap.Error(err))
	}
}
