package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// DockerAPI is the subset of the Docker Engine SDK used by DockerEngine.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var _ DockerAPI = (*client.Client)(nil)

// DockerEngine implements Engine on top of the Docker Engine API. Each Run
// creates a fresh container, streams its output into bounded buffers while
// waiting for it under a watchdog, and force-removes it before returning.
// Nothing the program writes is persisted by the daemon.
type DockerEngine struct {
	logger *zap.Logger
	api    DockerAPI
}

var _ Engine = (*DockerEngine)(nil)

// DockerEngineOption defines a functional option for DockerEngine
type DockerEngineOption func(*DockerEngine)

// WithDockerAPI replaces the SDK client, typically with a mock.
func WithDockerAPI(api DockerAPI) DockerEngineOption {
	return func(d *DockerEngine) {
		d.api = api
	}
}

// NewDockerEngine creates a DockerEngine. Unless an API is injected it
// connects using the standard DOCKER_* environment variables. The daemon is
// not contacted here; use Ping for liveness.
func NewDockerEngine(logger *zap.Logger, opts ...DockerEngineOption) (*DockerEngine, error) {
	engine := &DockerEngine{logger: logger}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.api == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		engine.api = cli
	}

	return engine, nil
}

// Ping checks that the daemon answers.
func (d *DockerEngine) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// ImagePresent reports whether ref is in the local image store.
func (d *DockerEngine) ImagePresent(ctx context.Context, ref string) (bool, error) {
	_, err := d.api.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// PullImage pulls ref and drains the progress stream, surfacing any error
// the daemon reports inside it.
func (d *DockerEngine) PullImage(ctx context.Context, ref string) error {
	rc, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()

	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}

// Run executes req in a new container.
func (d *DockerEngine) Run(ctx context.Context, req RunRequest) RawResult {
	if len(req.Argv) == 0 {
		return launchFailure("empty command", nil)
	}

	name := containerName()
	logger := d.logger.With(zap.String("container", name), zap.String("image", req.Image))

	created, err := d.api.ContainerCreate(ctx, containerConfig(req), hostConfig(req.Limits), nil, nil, name)
	if err != nil {
		if ctx.Err() != nil {
			return launchFailure(ReasonCancelled, ctx.Err())
		}
		return launchFailure("create container", err)
	}
	defer d.remove(logger, created.ID)

	stream, err := d.api.ContainerAttach(ctx, created.ID, container.AttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		if ctx.Err() != nil {
			return launchFailure(ReasonCancelled, ctx.Err())
		}
		return launchFailure("attach container", err)
	}
	defer stream.Close()

	stdout := newBoundedBuffer(req.Limits.MaxOutputBytes)
	stderr := newBoundedBuffer(req.Limits.MaxOutputBytes)
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, stream.Reader)
		copied <- err
	}()

	waitCh, waitErrCh := d.api.ContainerWait(ctx, created.ID, container.WaitConditionNextExit)

	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return launchFailure(ReasonCancelled, ctx.Err())
		}
		return launchFailure("start container", err)
	}

	wd := startWatchdog(req.Limits.WallClock, func() {
		logger.Warn("wall-clock limit reached, killing container", zap.Duration("limit", req.Limits.WallClock))
		d.kill(logger, created.ID)
	})

	var (
		exitCode int
		waitErr  error
	)
	select {
	case resp := <-waitCh:
		exitCode = int(resp.StatusCode)
		if resp.Error != nil && resp.Error.Message != "" {
			waitErr = errors.New(resp.Error.Message)
		}
	case waitErr = <-waitErrCh:
	}

	timedOut := wd.Stop()

	switch {
	case timedOut:
		d.drain(logger, &stream, copied)
		return RawResult{ExitCode: -1, Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), TimedOut: true}
	case ctx.Err() != nil:
		return launchFailure(ReasonCancelled, ctx.Err())
	case waitErr != nil:
		return launchFailure("wait for container", waitErr)
	}

	d.drain(logger, &stream, copied)
	return RawResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
}

// drain waits for the attached stream to end after the container exited.
// The copy goroutine has returned by the time drain does, so the buffers are
// safe to read.
func (d *DockerEngine) drain(logger *zap.Logger, stream *types.HijackedResponse, copied <-chan error) {
	timer := time.NewTimer(cleanupTimeout)
	defer timer.Stop()

	select {
	case err := <-copied:
		if err != nil {
			logger.Warn("output stream ended with error", zap.Error(err))
		}
	case <-timer.C:
		logger.Warn("output stream did not close, keeping what was read")
		stream.Close()
		<-copied
	}
}

func containerConfig(req RunRequest) *container.Config {
	return &container.Config{
		Image:           req.Image,
		Entrypoint:      req.Argv[:1],
		Cmd:             req.Argv[1:],
		Env:             sortedEnv(req.Env),
		User:            req.Limits.User,
		WorkingDir:      req.Limits.Workdir,
		NetworkDisabled: true,
		Labels:          map[string]string{LabelKey: LabelValue},
	}
}

func hostConfig(limits Limits) *container.HostConfig {
	pids := limits.PidsLimit
	return &container.HostConfig{
		NetworkMode: container.NetworkMode("none"),
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			limits.Workdir: tmpfsOptions(limits),
		},
		LogConfig: container.LogConfig{Type: "none"},
		Resources: container.Resources{
			Memory:     limits.MemoryBytes,
			MemorySwap: limits.MemoryBytes,
			NanoCPUs:   int64(limits.CPUs * 1e9),
			PidsLimit:  &pids,
		},
	}
}

func (d *DockerEngine) kill(logger *zap.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := d.api.ContainerKill(ctx, id, "KILL"); err != nil && !cerrdefs.IsNotFound(err) {
		logger.Warn("failed to kill container", zap.Error(err))
	}
}

// remove force-removes the container, which also kills it if it is still running.
func (d *DockerEngine) remove(logger *zap.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := d.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		logger.Error("failed to remove container", zap.Error(err))
	}
}
