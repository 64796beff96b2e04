// Package sandbox runs untrusted programs in throwaway containers.
//
// An Engine launches one container per RunRequest with networking disabled,
// all capabilities dropped, memory, CPU and process-count ceilings applied,
// an unprivileged user and a size-limited tmpfs working directory. Output is
// read while the program runs and only the first MaxOutputBytes of each
// stream are kept; nothing is written to the host's log storage. A watchdog kills
// the container once the wall-clock limit passes, and the container is
// force-removed before Run returns on every path. Two engines are provided:
// DockerEngine talks to the Docker Engine API and PodmanEngine drives the
// podman CLI.
//
// The Provisioner pulls missing images on demand. Concurrent requests for
// the same image share a single pull.
//
// Usage:
//
//	engine, err := sandbox.NewEngine(logger, cfg)
//	provisioner := sandbox.NewProvisionerFromConfig(logger, engine, cfg)
//	if err := provisioner.EnsureAvailable(ctx, "python:3.11-slim"); err != nil {
//	    return err
//	}
//	res := engine.Run(ctx, sandbox.RunRequest{
//	    Image:  "python:3.11-slim",
//	    Argv:   []string{"python", "-c", "print('Hello, World!')"},
//	    Limits: sandbox.NewLimits(cfg),
//	})
package sandbox
