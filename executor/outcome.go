package executor

import (
	"fmt"
	"strings"
)

// Kind names an Outcome variant. It doubles as the status reported to
// clients and as a metrics label.
type Kind string

// Outcome kinds
const (
	KindSuccess               Kind = "success"
	KindRuntimeFailure        Kind = "runtime_error"
	KindTimedOut              Kind = "timeout"
	KindUnsupportedLanguage   Kind = "unsupported_language"
	KindInfrastructureFailure Kind = "infrastructure_error"
)

// Outcome is the result of one execution attempt. It is one of Success,
// RuntimeFailure, TimedOut, UnsupportedLanguage or InfrastructureFailure.
type Outcome interface {
	Kind() Kind
	// ExitCode is 0 on success, the program's own status on a runtime
	// failure and -1 otherwise.
	ExitCode() int
	Report() Report
	outcome()
}

// Report is the flattened form of an Outcome handed to clients.
type Report struct {
	Status        Kind    `json:"status"`
	Output        string  `json:"output,omitempty"`
	Error         string  `json:"error,omitempty"`
	ExitCode      int     `json:"exitCode"`
	Stderr        string  `json:"stderr,omitempty"`
	ExecutionTime float64 `json:"executionTime"`
}

// Success means the program exited with status 0.
type Success struct {
	Stdout string
	Stderr string
}

func (Success) Kind() Kind    { return KindSuccess }
func (Success) ExitCode() int { return 0 }
func (Success) outcome()      {}

func (s Success) Report() Report {
	return Report{Status: KindSuccess, Output: s.Stdout, Stderr: s.Stderr}
}

// RuntimeFailure means the program ran and exited with a non-zero status.
// Compilation errors of compiled languages land here too.
type RuntimeFailure struct {
	Code   int
	Stdout string
	Stderr string
}

func (RuntimeFailure) Kind() Kind      { return KindRuntimeFailure }
func (f RuntimeFailure) ExitCode() int { return f.Code }
func (RuntimeFailure) outcome()        {}

// Message is the error stream, or standard output when the program wrote
// nothing to stderr.
func (f RuntimeFailure) Message() string {
	switch {
	case f.Stderr != "":
		return f.Stderr
	case f.Stdout != "":
		return f.Stdout
	default:
		return fmt.Sprintf("Process exited with code %d", f.Code)
	}
}

func (f RuntimeFailure) Report() Report {
	return Report{Status: KindRuntimeFailure, Error: f.Message(), ExitCode: f.Code, Stderr: f.Stderr}
}

// TimedOut means the wall-clock limit elapsed and the sandbox was killed.
type TimedOut struct {
	LimitSeconds int
}

func (TimedOut) Kind() Kind    { return KindTimedOut }
func (TimedOut) ExitCode() int { return -1 }
func (TimedOut) outcome()      {}

func (t TimedOut) Report() Report {
	return Report{
		Status:   KindTimedOut,
		Error:    fmt.Sprintf("Code execution timed out after %d seconds", t.LimitSeconds),
		ExitCode: -1,
	}
}

// UnsupportedLanguage means the requested language id is not registered.
type UnsupportedLanguage struct {
	Requested string
	Supported []string
}

func (UnsupportedLanguage) Kind() Kind    { return KindUnsupportedLanguage }
func (UnsupportedLanguage) ExitCode() int { return -1 }
func (UnsupportedLanguage) outcome()      {}

func (u UnsupportedLanguage) Report() Report {
	return Report{
		Status:   KindUnsupportedLanguage,
		Error:    fmt.Sprintf("Unsupported language: %s. Supported: [%s]", u.Requested, strings.Join(u.Supported, ", ")),
		ExitCode: -1,
	}
}

// InfrastructureFailure means the sandbox could not be provisioned or
// launched, or orchestration failed unexpectedly.
type InfrastructureFailure struct {
	Reason string
}

func (InfrastructureFailure) Kind() Kind    { return KindInfrastructureFailure }
func (InfrastructureFailure) ExitCode() int { return -1 }
func (InfrastructureFailure) outcome()      {}

func (f InfrastructureFailure) Report() Report {
	return Report{Status: KindInfrastructureFailure, Error: f.Reason, ExitCode: -1}
}
