package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codecrate/config"
	"github.com/isdmx/codecrate/executor"
	"github.com/isdmx/codecrate/language"
)

// Version is reported to MCP clients and by the health tool.
const Version = "1.0.0"

// Tool names
const (
	ToolExecuteCode   = "execute_code"
	ToolListLanguages = "list_languages"
	ToolHealth        = "health"
)

// CodeExecutor is the execution core the server exposes.
type CodeExecutor interface {
	Execute(ctx context.Context, languageID, code string) executor.Outcome
	IsAvailable(ctx context.Context) bool
	SupportedLanguages() []language.Info
}

// HealthReport is the payload of the health tool.
type HealthReport struct {
	Status             string   `json:"status"`
	Backend            string   `json:"backend"`
	BackendAvailable   bool     `json:"backend_available"`
	SupportedLanguages []string `json:"supported_languages"`
	Version            string   `json:"version"`
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   CodeExecutor
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, exec CodeExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: exec,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Float64("sandbox.cpus", cfg.Sandbox.CPUs),
		zap.Int64("sandbox.pids_limit", cfg.Sandbox.PidsLimit),
		zap.Int("sandbox.max_output_kb", cfg.Sandbox.MaxOutputKB),
		zap.Any("languages", exec.SupportedLanguages()),
	)

	s.mcpServer = server.NewMCPServer(
		"codecrate",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerExecuteCodeTool()
	s.registerListLanguagesTool()
	s.registerHealthTool()

	if cfg.Server.Transport == "http" {
		s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	}

	return s, nil
}

func (s *MCPServer) languageIDs() []string {
	infos := s.executor.SupportedLanguages()
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	return ids
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.NewTool(ToolExecuteCode,
		mcp.WithDescription("Execute untrusted source code in an isolated, network-less container and return its output"),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Description("Language identifier"),
			mcp.Enum(s.languageIDs()...),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Complete program source"),
		),
	)

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	lang, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	start := time.Now()
	outcome := s.executor.Execute(ctx, lang, code)

	report := outcome.Report()
	report.ExecutionTime = time.Since(start).Seconds()

	return jsonResult(report, outcome.Kind() != executor.KindSuccess)
}

// registerListLanguagesTool registers the list_languages tool
func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.NewTool(ToolListLanguages,
		mcp.WithDescription("List the supported languages and the container image each one runs in"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"languages": s.executor.SupportedLanguages()}, false)
}

// registerHealthTool registers the health tool
func (s *MCPServer) registerHealthTool() {
	tool := mcp.NewTool(ToolHealth,
		mcp.WithDescription("Report whether the container backend is reachable"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.mcpServer.AddTool(tool, s.handleHealth)
}

func (s *MCPServer) handleHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	available := s.executor.IsAvailable(ctx)

	status := "healthy"
	if !available {
		status = "unhealthy"
	}

	return jsonResult(HealthReport{
		Status:             status,
		Backend:            s.config.Sandbox.Backend,
		BackendAvailable:   available,
		SupportedLanguages: s.languageIDs(),
		Version:            Version,
	}, false)
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
		IsError: isError,
	}, nil
}

// ServeStdio serves on stdin/stdout until ctx is cancelled or the input closes
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeHTTP starts the streamable HTTP transport and blocks until Shutdown
func (s *MCPServer) ServeHTTP() error {
	if s.httpServer == nil {
		return errors.New("http transport is not configured")
	}

	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	err := s.httpServer.Start(fmt.Sprintf(":%d", port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP transport if it is running
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
