// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Logs always go to stderr so that stdout stays free for
// the MCP stdio transport.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
