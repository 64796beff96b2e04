package executor

import "github.com/isdmx/codecrate/sandbox"

// Classify maps a raw sandbox result to an Outcome. A launch failure wins
// over a timeout, and a timeout wins over whatever exit code was observed.
func Classify(raw sandbox.RawResult, limits sandbox.Limits) Outcome {
	switch {
	case raw.LaunchFailed:
		return InfrastructureFailure{Reason: raw.Reason}
	case raw.TimedOut:
		return TimedOut{LimitSeconds: limits.WallClockSeconds()}
	case raw.ExitCode == 0:
		return Success{Stdout: string(raw.Stdout), Stderr: string(raw.Stderr)}
	default:
		return RuntimeFailure{Code: raw.ExitCode, Stdout: string(raw.Stdout), Stderr: string(raw.Stderr)}
	}
}
