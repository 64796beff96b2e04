package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codecrate/language"
	"github.com/isdmx/codecrate/sandbox"
)

type mockEngine struct {
	mu       sync.Mutex
	requests []sandbox.RunRequest
	result   sandbox.RawResult
	pingErr  error
	panicMsg string
}

func (m *mockEngine) ImagePresent(context.Context, string) (bool, error) { return true, nil }
func (m *mockEngine) PullImage(context.Context, string) error            { return nil }
func (m *mockEngine) Ping(context.Context) error                         { return m.pingErr }

func (m *mockEngine) Run(_ context.Context, req sandbox.RunRequest) sandbox.RawResult {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.result
}

func (m *mockEngine) runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockProvisioner struct {
	mu     sync.Mutex
	images []string
	err    error
}

func (m *mockProvisioner) EnsureAvailable(_ context.Context, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, image)
	return m.err
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) ObserveExecution(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type panickingObserver struct{}

func (panickingObserver) ObserveExecution(Event) { panic("observer bug") }

func testLimits() sandbox.Limits {
	return sandbox.Limits{
		MemoryBytes:      256 * sandbox.BytesPerMB,
		CPUs:             1,
		WallClock:        30 * time.Second,
		PidsLimit:        64,
		MaxOutputBytes:   sandbox.BytesPerMB,
		Workdir:          "/sandbox",
		WorkdirSizeBytes: 64 * sandbox.BytesPerMB,
	}
}

func newTestExecutor(t *testing.T, engine *mockEngine, prov *mockProvisioner, opts ...Option) *Executor {
	t.Helper()
	specs, err := language.Builtin()
	require.NoError(t, err)
	registry, err := language.NewRegistry(specs)
	require.NoError(t, err)
	return New(zaptest.NewLogger(t), registry, engine, prov, testLimits(), opts...)
}

func TestExecuteSuccess(t *testing.T) {
	engine := &mockEngine{result: sandbox.RawResult{Stdout: []byte("Hello World\n"), Stderr: []byte("warning\n")}}
	prov := &mockProvisioner{}
	exec := newTestExecutor(t, engine, prov)

	outcome := exec.Execute(context.Background(), "py", "print('Hello World')")

	require.IsType(t, Success{}, outcome)
	assert.Equal(t, 0, outcome.ExitCode())
	report := outcome.Report()
	assert.Equal(t, "Hello World\n", report.Output)
	assert.Equal(t, "warning\n", report.Stderr)
	assert.Empty(t, report.Error)

	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Equal(t, "python:3.11-slim", req.Image)
	assert.Equal(t, []string{"python", "-c", "print('Hello World')"}, req.Argv)
	assert.Equal(t, "1", req.Env["PYTHONUNBUFFERED"])
	assert.Equal(t, testLimits(), req.Limits)
	assert.Equal(t, []string{"python:3.11-slim"}, prov.images)
}

func TestExecuteCompiledLanguageUsesTemplate(t *testing.T) {
	engine := &mockEngine{}
	exec := newTestExecutor(t, engine, &mockProvisioner{})

	exec.Execute(context.Background(), "cpp", `int main(){puts("it's");}`)

	require.Len(t, engine.requests, 1)
	argv := engine.requests[0].Argv
	require.Len(t, argv, 3)
	assert.Equal(t, []string{"sh", "-c"}, argv[:2])
	assert.Contains(t, argv[2], `'int main(){puts("it'"'"'s");}'`)
	assert.Contains(t, argv[2], "g++")
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	engine := &mockEngine{}
	prov := &mockProvisioner{}
	exec := newTestExecutor(t, engine, prov)

	outcome := exec.Execute(context.Background(), "not-a-real-language", "anything")

	require.IsType(t, UnsupportedLanguage{}, outcome)
	assert.Equal(t, -1, outcome.ExitCode())
	assert.Equal(t, "Unsupported language: not-a-real-language. Supported: [py, cpp, java, js, go]", outcome.Report().Error)
	assert.Empty(t, prov.images, "must not provision")
	assert.Zero(t, engine.runs(), "must not launch")
}

func TestExecuteProvisioningFailure(t *testing.T) {
	engine := &mockEngine{}
	prov := &mockProvisioner{err: fmt.Errorf("%w: pull gcc:13: offline", sandbox.ErrImageUnavailable)}
	exec := newTestExecutor(t, engine, prov)

	outcome := exec.Execute(context.Background(), "cpp", "int main(){}")

	require.IsType(t, InfrastructureFailure{}, outcome)
	assert.Equal(t, -1, outcome.ExitCode())
	assert.Equal(t, "Failed to pull image: gcc:13", outcome.Report().Error)
	assert.Zero(t, engine.runs())
}

func TestExecuteProvisioningUnexpectedError(t *testing.T) {
	exec := newTestExecutor(t, &mockEngine{}, &mockProvisioner{err: errors.New("boom")})

	outcome := exec.Execute(context.Background(), "go", "package main")

	require.IsType(t, InfrastructureFailure{}, outcome)
	assert.Equal(t, "boom", outcome.Report().Error)
}

func TestExecuteRejectsOversizedSource(t *testing.T) {
	engine := &mockEngine{}
	prov := &mockProvisioner{}
	exec := newTestExecutor(t, engine, prov)

	outcome := exec.Execute(context.Background(), "js", strings.Repeat("/", language.MaxArgBytes+1))

	require.IsType(t, InfrastructureFailure{}, outcome)
	assert.Equal(t, -1, outcome.ExitCode())
	assert.Contains(t, outcome.Report().Error, "source too large")
	assert.Empty(t, prov.images, "must not provision")
	assert.Zero(t, engine.runs(), "must not launch")
}

func TestExecuteClassifiesRunnerResults(t *testing.T) {
	tests := []struct {
		name     string
		raw      sandbox.RawResult
		kind     Kind
		exitCode int
		errText  string
	}{
		{"runtime failure", sandbox.RawResult{ExitCode: 3, Stderr: []byte("bad\n")}, KindRuntimeFailure, 3, "bad\n"},
		{"timeout", sandbox.RawResult{ExitCode: -1, TimedOut: true}, KindTimedOut, -1, "Code execution timed out after 30 seconds"},
		{"launch failure", sandbox.RawResult{ExitCode: -1, LaunchFailed: true, Reason: "start container: no runtime"}, KindInfrastructureFailure, -1, "start container: no runtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newTestExecutor(t, &mockEngine{result: tt.raw}, &mockProvisioner{})

			outcome := exec.Execute(context.Background(), "js", "process.exit(3)")

			assert.Equal(t, tt.kind, outcome.Kind())
			assert.Equal(t, tt.exitCode, outcome.ExitCode())
			assert.Equal(t, tt.errText, outcome.Report().Error)
		})
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	exec := newTestExecutor(t, &mockEngine{panicMsg: "nil map"}, &mockProvisioner{})

	var outcome Outcome
	require.NotPanics(t, func() {
		outcome = exec.Execute(context.Background(), "py", "print(1)")
	})

	require.IsType(t, InfrastructureFailure{}, outcome)
	assert.Equal(t, "Internal error: nil map", outcome.Report().Error)
}

func TestExecuteNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	exec := newTestExecutor(t, &mockEngine{}, &mockProvisioner{}, WithObserver(obs))

	exec.Execute(context.Background(), "py", "print(1)")
	exec.Execute(context.Background(), "cobol", "DISPLAY 'HI'")

	require.Len(t, obs.events, 2)
	assert.Equal(t, "py", obs.events[0].Language)
	assert.Equal(t, KindSuccess, obs.events[0].Outcome.Kind())
	assert.Equal(t, "cobol", obs.events[1].Language)
	assert.Equal(t, KindUnsupportedLanguage, obs.events[1].Outcome.Kind())
	assert.GreaterOrEqual(t, obs.events[0].Duration, time.Duration(0))
}

func TestExecuteSurvivesObserverPanic(t *testing.T) {
	exec := newTestExecutor(t, &mockEngine{}, &mockProvisioner{}, WithObserver(panickingObserver{}))

	require.NotPanics(t, func() {
		outcome := exec.Execute(context.Background(), "py", "print(1)")
		assert.Equal(t, KindSuccess, outcome.Kind())
	})
}

func TestExecuteIsIdempotent(t *testing.T) {
	engine := &mockEngine{result: sandbox.RawResult{Stdout: []byte("42\n")}}
	exec := newTestExecutor(t, engine, &mockProvisioner{})

	first := exec.Execute(context.Background(), "go", "package main")
	second := exec.Execute(context.Background(), "go", "package main")

	assert.Equal(t, first, second)
	assert.Equal(t, engine.requests[0], engine.requests[1])
}

func TestExecuteConcurrent(t *testing.T) {
	engine := &mockEngine{result: sandbox.RawResult{Stdout: []byte("ok")}}
	exec := newTestExecutor(t, engine, &mockProvisioner{})

	var wg sync.WaitGroup
	for _, id := range []string{"py", "cpp", "java", "js", "go", "py", "js", "go"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, KindSuccess, exec.Execute(context.Background(), id, "x").Kind())
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, engine.runs())
}

func TestIsAvailable(t *testing.T) {
	exec := newTestExecutor(t, &mockEngine{}, &mockProvisioner{}, WithHealthTimeout(time.Second))
	assert.True(t, exec.IsAvailable(context.Background()))

	exec = newTestExecutor(t, &mockEngine{pingErr: errors.New("connection refused")}, &mockProvisioner{})
	assert.False(t, exec.IsAvailable(context.Background()))
}

func TestSupportedLanguages(t *testing.T) {
	exec := newTestExecutor(t, &mockEngine{}, &mockProvisioner{})

	infos := exec.SupportedLanguages()

	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
		assert.NotEmpty(t, info.Image)
	}
	assert.Equal(t, []string{"py", "cpp", "java", "js", "go"}, ids)
}
