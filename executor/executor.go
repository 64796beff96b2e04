package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codecrate/language"
	"github.com/isdmx/codecrate/sandbox"
)

const defaultHealthTimeout = 5 * time.Second

// Provisioner makes an image available locally.
type Provisioner interface {
	EnsureAvailable(ctx context.Context, image string) error
}

// Event describes one finished execution.
type Event struct {
	Language string
	Outcome  Outcome
	Duration time.Duration
}

// Observer receives an Event after every execution. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveExecution(Event)
}

// Executor is the single entry point for running submitted code. It holds
// no per-request state and is safe for concurrent use.
type Executor struct {
	logger        *zap.Logger
	registry      *language.Registry
	engine        sandbox.Engine
	provisioner   Provisioner
	limits        sandbox.Limits
	observer      Observer
	healthTimeout time.Duration
}

// Option defines a functional option for Executor
type Option func(*Executor)

// WithObserver registers an observer notified after each execution
func WithObserver(observer Observer) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

// WithHealthTimeout bounds the daemon ping done by IsAvailable
func WithHealthTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.healthTimeout = timeout
	}
}

// New creates an Executor
func New(
	logger *zap.Logger,
	registry *language.Registry,
	engine sandbox.Engine,
	provisioner Provisioner,
	limits sandbox.Limits,
	opts ...Option,
) *Executor {
	e := &Executor{
		logger:        logger,
		registry:      registry,
		engine:        engine,
		provisioner:   provisioner,
		limits:        limits,
		healthTimeout: defaultHealthTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs code written in the language identified by languageID and
// returns exactly one Outcome. It never panics and never returns an error;
// every failure is folded into InfrastructureFailure.
func (e *Executor) Execute(ctx context.Context, languageID, code string) Outcome {
	start := time.Now()
	logger := e.logger.With(zap.String("language", languageID))
	logger.Info("execution requested", zap.Int("code_length", len(code)))

	outcome := e.execute(ctx, logger, languageID, code)

	duration := time.Since(start)
	logger.Info("execution finished",
		zap.String("outcome", string(outcome.Kind())),
		zap.Int("exit_code", outcome.ExitCode()),
		zap.Duration("duration", duration),
	)

	e.notify(logger, Event{Language: languageID, Outcome: outcome, Duration: duration})

	return outcome
}

func (e *Executor) execute(ctx context.Context, logger *zap.Logger, languageID, code string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("execution panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			outcome = InfrastructureFailure{Reason: fmt.Sprintf("Internal error: %v", r)}
		}
	}()

	spec, ok := e.registry.Lookup(languageID)
	if !ok {
		logger.Warn("unsupported language requested")
		return UnsupportedLanguage{Requested: languageID, Supported: e.registry.IDs()}
	}

	argv, err := language.Build(spec, code)
	if err != nil {
		logger.Warn("source rejected", zap.Error(err))
		return InfrastructureFailure{Reason: err.Error()}
	}

	if err := e.provisioner.EnsureAvailable(ctx, spec.Image); err != nil {
		logger.Error("image provisioning failed", zap.String("image", spec.Image), zap.Error(err))
		if errors.Is(err, sandbox.ErrImageUnavailable) {
			return InfrastructureFailure{Reason: fmt.Sprintf("Failed to pull image: %s", spec.Image)}
		}
		return InfrastructureFailure{Reason: err.Error()}
	}

	raw := e.engine.Run(ctx, sandbox.RunRequest{
		Image:  spec.Image,
		Argv:   argv,
		Env:    spec.Environment,
		Limits: e.limits,
	})
	if raw.LaunchFailed {
		logger.Error("sandbox launch failed", zap.String("reason", raw.Reason))
	}

	return Classify(raw, e.limits)
}

func (e *Executor) notify(logger *zap.Logger, event Event) {
	if e.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("observer panicked", zap.Any("panic", r))
		}
	}()
	e.observer.ObserveExecution(event)
}

// IsAvailable reports whether the isolation backend currently answers.
func (e *Executor) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, e.healthTimeout)
	defer cancel()

	if err := e.engine.Ping(ctx); err != nil {
		e.logger.Warn("isolation backend unavailable", zap.Error(err))
		return false
	}
	return true
}

// SupportedLanguages lists the registered languages in registry order.
func (e *Executor) SupportedLanguages() []language.Info {
	return e.registry.List()
}
