// Package observer collects usage metrics outside the execution core.
//
// Metrics implements executor.Observer and exposes its counters through a
// Prometheus handler mounted on a separate listener by the server command.
package observer
