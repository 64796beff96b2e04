// Package main is the entry point for the Codecrate MCP server.
//
// Codecrate runs untrusted programs (Python, C++, Java, JavaScript, Go) in
// throwaway containers with no network access, capped memory, CPU and
// process count, and a hard wall-clock limit. Every request gets a fresh
// container that is removed before the response is returned. The server
// speaks MCP over stdio or streamable HTTP and can expose Prometheus
// metrics on a separate address.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
