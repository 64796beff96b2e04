// Package executor turns a (language, code) request into exactly one Outcome.
//
// The Executor looks the language up in the registry, makes sure its image
// is available, builds the argument vector, runs it in a sandbox and
// classifies the raw result. An unknown language is rejected before any
// image or container is touched. Provisioning errors, launch failures and
// panics all come back as InfrastructureFailure, so callers always receive
// a result.
//
// Usage:
//
//	exec := executor.New(logger, registry, engine, provisioner, sandbox.NewLimits(cfg),
//	    executor.WithObserver(metrics))
//	report := exec.Execute(ctx, "py", "print('Hello, World!')").Report()
package executor
