package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/secrun/secrun/config"
	"github.com/secrun/secrun/engine"
	"github.com/secrun/secrun/store"
	"github.com/secrun/secrun/validator"
	"github.com/secrun/secrun/workspace"
)

const (
	serverName    = "secrun"
	serverVersion = "1.0.0"
)

// CodeExecutor is the execution engine as seen by the MCP layer.
type CodeExecutor interface {
	Execute(ctx context.Context, req engine.Request) engine.Result
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	exec      CodeExecutor
	validator *validator.Validator
	store     *store.Store
	mcpServer *server.MCPServer
	started   time.Time
}

// executeCodeResponse is the JSON payload returned by the execute_code tool.
type executeCodeResponse struct {
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr"`
	ExitCode    int64    `json:"exit_code"`
	Error       string   `json:"error,omitempty"`
	TimedOut    bool     `json:"timed_out"`
	OutputFiles []string `json:"output_files"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, exec CodeExecutor, v *validator.Validator, st *store.Store) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		exec:      exec,
		validator: v,
		store:     st,
		started:   time.Now(),
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("engine.default_timeout_sec", cfg.Engine.DefaultTimeoutSec),
		zap.Int("engine.max_timeout_sec", cfg.Engine.MaxTimeoutSec),
		zap.Int("engine.max_concurrent", cfg.Engine.MaxConcurrent),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Float64("sandbox.cpus", cfg.Sandbox.CPUs),
		zap.String("sandbox.workspace_root", cfg.Sandbox.WorkspaceRoot),
		zap.Int("validator.allowed_modules", len(cfg.Validator.AllowedModules)),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)

	s.registerExecutionTools()
	s.registerDirectoryTools()
	s.registerResources()

	return s, nil
}

// registerExecutionTools registers the code execution tools
func (s *MCPServer) registerExecutionTools() {
	executeTool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute Python code in a secure, containerized environment. Returns stdout, stderr, an explicit timeout indicator, and the list of files the code wrote into its working directory.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Execution timeout in seconds (max %d)", s.config.Engine.MaxTimeoutSec),
				},
				"input_files": map[string]any{
					"type":        "object",
					"description": "Input files placed next to the code, as a map of file name to base64-encoded content (optional)",
				},
			},
			Required: []string{"code"},
		},
	}
	s.mcpServer.AddTool(executeTool, s.handleExecuteCode)

	librariesTool := mcp.Tool{
		Name:        "list_available_libraries",
		Description: "List the Python modules allowed in submitted code",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(librariesTool, s.handleListAvailableLibraries)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("code execution requested")

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	timeoutSec := request.GetInt("timeout_sec", 0)
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout_sec must not be negative: %d", timeoutSec)
	}

	inputFiles, err := decodeInputFiles(request.GetArguments())
	if err != nil {
		return nil, err
	}

	result := s.exec.Execute(ctx, engine.Request{
		Code:       code,
		Timeout:    time.Duration(timeoutSec) * time.Second,
		InputFiles: inputFiles,
	})

	s.logger.Info("code execution finished",
		zap.Int64("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("rejected", result.Error != ""),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
		zap.Int("output_files", len(result.OutputFiles)))

	payload := executeCodeResponse{
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		ExitCode:    result.ExitCode,
		Error:       result.Error,
		TimedOut:    result.TimedOut,
		OutputFiles: result.OutputFiles,
	}
	if payload.OutputFiles == nil {
		payload.OutputFiles = []string{}
	}

	return jsonToolResult(payload, result.Error != "")
}

// decodeInputFiles extracts the optional input_files argument, a map of
// file name to base64-encoded content.
func decodeInputFiles(args map[string]any) ([]workspace.InputFile, error) {
	raw, ok := args["input_files"]
	if !ok || raw == nil {
		return nil, nil
	}

	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input_files must be an object of file name to base64 content")
	}

	files := make([]workspace.InputFile, 0, len(entries))
	for name, value := range entries {
		encoded, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("input file %q content must be a base64 string", name)
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode input file %q: %w", name, err)
		}
		files = append(files, workspace.InputFile{Name: name, Data: data})
	}

	return files, nil
}

// handleListAvailableLibraries handles the list_available_libraries tool
func (s *MCPServer) handleListAvailableLibraries(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonToolResult(map[string]any{
		"allowed_libraries": s.validator.AllowedModules(),
	}, false)
}

// registerDirectoryTools registers the demo directory tools
func (s *MCPServer) registerDirectoryTools() {
	createUserTool := mcp.Tool{
		Name:        "create_user",
		Description: "Create a new user in the directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name":  map[string]any{"type": "string", "description": "Full name"},
				"email": map[string]any{"type": "string", "description": "Email address"},
				"role":  map[string]any{"type": "string", "description": "Either 'user' or 'admin'", "enum": []string{"user", "admin"}},
			},
			Required: []string{"name", "email"},
		},
	}
	s.mcpServer.AddTool(createUserTool, s.handleCreateUser)

	deleteUserTool := mcp.Tool{
		Name:        "delete_user",
		Description: "Delete a user from the directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"user_id": map[string]any{"type": "string", "description": "ID of the user to delete"},
			},
			Required: []string{"user_id"},
		},
	}
	s.mcpServer.AddTool(deleteUserTool, s.handleDeleteUser)

	updateDocumentTool := mcp.Tool{
		Name:        "update_document",
		Description: "Update an existing document's title or content",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"doc_id":  map[string]any{"type": "string", "description": "ID of the document to update"},
				"title":   map[string]any{"type": "string", "description": "New title (optional)"},
				"content": map[string]any{"type": "string", "description": "New content (optional)"},
			},
			Required: []string{"doc_id"},
		},
	}
	s.mcpServer.AddTool(updateDocumentTool, s.handleUpdateDocument)

	searchTool := mcp.Tool{
		Name:        "search_documents",
		Description: "Search for documents containing the specified query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string", "description": "Text to search for in titles and content"},
			},
			Required: []string{"query"},
		},
	}
	s.mcpServer.AddTool(searchTool, s.handleSearchDocuments)

	statsTool := mcp.Tool{
		Name:        "get_system_stats",
		Description: "Get current directory statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(statsTool, s.handleGetSystemStats)
}

// handleCreateUser handles the create_user tool
func (s *MCPServer) handleCreateUser(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return nil, fmt.Errorf("name parameter is required: %w", err)
	}
	email, err := request.RequireString("email")
	if err != nil {
		return nil, fmt.Errorf("email parameter is required: %w", err)
	}
	role := request.GetString("role", "user")

	user, err := s.store.CreateUser(name, email, role)
	if err != nil {
		return errorToolResult(err), nil
	}

	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return jsonToolResult(user, false)
}

// handleDeleteUser handles the delete_user tool
func (s *MCPServer) handleDeleteUser(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("user_id")
	if err != nil {
		return nil, fmt.Errorf("user_id parameter is required: %w", err)
	}

	user, err := s.store.DeleteUser(id)
	if err != nil {
		return errorToolResult(err), nil
	}

	s.logger.Info("user deleted", zap.String("user_id", id))
	return jsonToolResult(map[string]any{
		"deleted": user,
	}, false)
}

// handleUpdateDocument handles the update_document tool
func (s *MCPServer) handleUpdateDocument(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("doc_id")
	if err != nil {
		return nil, fmt.Errorf("doc_id parameter is required: %w", err)
	}
	title := request.GetString("title", "")
	content := request.GetString("content", "")

	doc, err := s.store.UpdateDocument(id, title, content)
	if err != nil {
		return errorToolResult(err), nil
	}

	s.logger.Info("document updated", zap.String("doc_id", id))
	return jsonToolResult(doc, false)
}

// handleSearchDocuments handles the search_documents tool
func (s *MCPServer) handleSearchDocuments(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return nil, fmt.Errorf("query parameter is required: %w", err)
	}

	results := s.store.SearchDocuments(query)
	return jsonToolResult(map[string]any{
		"query":       query,
		"results":     results,
		"total_found": len(results),
	}, false)
}

// handleGetSystemStats handles the get_system_stats tool
func (s *MCPServer) handleGetSystemStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonToolResult(s.store.Stats(), false)
}

// registerResources registers the read-only directory resources
func (s *MCPServer) registerResources() {
	s.mcpServer.AddResource(
		mcp.NewResource("data://server-info", "server-info",
			mcp.WithResourceDescription("General information about this server"),
			mcp.WithMIMEType("application/json")),
		s.handleServerInfoResource)

	s.mcpServer.AddResource(
		mcp.NewResource("data://users", "users",
			mcp.WithResourceDescription("All users in the directory"),
			mcp.WithMIMEType("application/json")),
		s.handleUsersResource)

	s.mcpServer.AddResource(
		mcp.NewResource("data://documents", "documents",
			mcp.WithResourceDescription("All documents in the directory"),
			mcp.WithMIMEType("application/json")),
		s.handleDocumentsResource)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate("data://user/{user_id}", "user",
			mcp.WithTemplateDescription("A single user by ID"),
			mcp.WithTemplateMIMEType("application/json")),
		s.handleUserResource)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate("data://document/{doc_id}", "document",
			mcp.WithTemplateDescription("A single document by ID"),
			mcp.WithTemplateMIMEType("application/json")),
		s.handleDocumentResource)
}

// handleServerInfoResource serves data://server-info
func (s *MCPServer) handleServerInfoResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResourceContents(request.Params.URI, map[string]any{
		"name":        serverName,
		"version":     serverVersion,
		"description": "Secure containerized Python code execution over MCP",
		"capabilities": []string{
			"sandboxed code execution",
			"import allow-listing",
			"user management",
			"document management",
		},
		"uptime": time.Since(s.started).Truncate(time.Second).String(),
	})
}

// handleUsersResource serves data://users
func (s *MCPServer) handleUsersResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	users := s.store.Users()
	return jsonResourceContents(request.Params.URI, map[string]any{
		"users":       users,
		"total_count": len(users),
	})
}

// handleDocumentsResource serves data://documents
func (s *MCPServer) handleDocumentsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	docs := s.store.Documents()
	return jsonResourceContents(request.Params.URI, map[string]any{
		"documents":   docs,
		"total_count": len(docs),
	})
}

// handleUserResource serves data://user/{user_id}
func (s *MCPServer) handleUserResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, "data://user/")
	user, err := s.store.User(id)
	if err != nil {
		return nil, err
	}
	return jsonResourceContents(request.Params.URI, user)
}

// handleDocumentResource serves data://document/{doc_id}
func (s *MCPServer) handleDocumentResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, "data://document/")
	doc, err := s.store.Document(id)
	if err != nil {
		return nil, err
	}
	return jsonResourceContents(request.Params.URI, doc)
}

// jsonToolResult marshals the payload into a text content tool result.
func jsonToolResult(payload any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
		IsError: isError,
	}, nil
}

// errorToolResult reports a tool-level failure as an error result.
func errorToolResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: err.Error()},
		},
		IsError: true,
	}
}

// jsonResourceContents marshals the payload into JSON resource contents.
func jsonResourceContents(uri string, payload any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
