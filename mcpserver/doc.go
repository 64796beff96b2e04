// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the execution core as MCP tools using the
// mark3labs/mcp-go library:
//
//   - execute_code runs a program and returns the JSON report
//     {status, output, error, exitCode, stderr, executionTime}
//   - list_languages returns the language table
//   - health reports whether the container backend is reachable
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, exec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio(ctx) // or server.ServeHTTP()
package mcpserver
