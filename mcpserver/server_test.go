package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/secrun/secrun/config"
	"github.com/secrun/secrun/engine"
	"github.com/secrun/secrun/store"
	"github.com/secrun/secrun/validator"
)

// fakeExecutor implements CodeExecutor for testing
type fakeExecutor struct {
	lastRequest engine.Request
	result      engine.Result
}

func (f *fakeExecutor) Execute(_ context.Context, req engine.Request) engine.Result {
	f.lastRequest = req
	return f.result
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Logging: config.LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Engine: config.EngineConfig{
			DefaultTimeoutSec: 30,
			MaxTimeoutSec:     90,
		},
		Sandbox: config.SandboxConfig{
			Image:         "python:3.11-slim",
			MemoryMB:      512,
			CPUs:          1.0,
			User:          "1000:1000",
			WorkspaceRoot: "/tmp/secrun-workspace",
		},
		Validator: config.ValidatorConfig{
			AllowedModules: []string{"json", "csv"},
		},
	}
}

func newTestServer(t *testing.T, exec CodeExecutor) *MCPServer {
	t.Helper()
	cfg := testConfig()
	s, err := New(cfg, zaptest.NewLogger(t), exec, validator.NewFromConfig(cfg), store.New())
	require.NoError(t, err)
	return s
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func TestNewMCPServer(t *testing.T) {
	exec := &fakeExecutor{}
	s := newTestServer(t, exec)

	assert.Equal(t, exec, s.exec)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.GetMCPServer())
}

func TestHandleExecuteCode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		exec := &fakeExecutor{result: engine.Result{Stdout: "hi\n", OutputFiles: []string{}}}
		s := newTestServer(t, exec)

		result, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{
			"code":        "print('hi')",
			"timeout_sec": 5,
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var payload executeCodeResponse
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
		assert.Equal(t, "hi\n", payload.Stdout)
		assert.Empty(t, payload.Error)
		assert.False(t, payload.TimedOut)
		assert.Empty(t, payload.OutputFiles)

		assert.Equal(t, "print('hi')", exec.lastRequest.Code)
		assert.Equal(t, 5*time.Second, exec.lastRequest.Timeout)
	})

	t.Run("MissingCode", func(t *testing.T) {
		s := newTestServer(t, &fakeExecutor{})

		_, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{}))
		assert.Error(t, err)
	})

	t.Run("NegativeTimeout", func(t *testing.T) {
		s := newTestServer(t, &fakeExecutor{})

		_, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{
			"code":        "print('hi')",
			"timeout_sec": -3,
		}))
		assert.Error(t, err)
	})

	t.Run("RejectedRequestIsErrorResult", func(t *testing.T) {
		exec := &fakeExecutor{result: engine.Result{Error: "disallowed import: socket", OutputFiles: []string{}}}
		s := newTestServer(t, exec)

		result, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{
			"code": "import socket",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)

		var payload executeCodeResponse
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
		assert.Contains(t, payload.Error, "disallowed import")
		assert.Empty(t, payload.OutputFiles)
	})

	t.Run("TimedOutRun", func(t *testing.T) {
		exec := &fakeExecutor{result: engine.Result{TimedOut: true, ExitCode: 137}}
		s := newTestServer(t, exec)

		result, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{
			"code": "while True: pass",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var payload executeCodeResponse
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
		assert.True(t, payload.TimedOut)
	})

	t.Run("InputFiles", func(t *testing.T) {
		exec := &fakeExecutor{result: engine.Result{OutputFiles: []string{"data.csv"}}}
		s := newTestServer(t, exec)

		_, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{
			"code": "import csv",
			"input_files": map[string]any{
				"data.csv": base64.StdEncoding.EncodeToString([]byte("a,b\n")),
			},
		}))
		require.NoError(t, err)

		require.Len(t, exec.lastRequest.InputFiles, 1)
		assert.Equal(t, "data.csv", exec.lastRequest.InputFiles[0].Name)
		assert.Equal(t, []byte("a,b\n"), exec.lastRequest.InputFiles[0].Data)
	})

	t.Run("InvalidInputFileEncoding", func(t *testing.T) {
		s := newTestServer(t, &fakeExecutor{})

		_, err := s.handleExecuteCode(context.Background(), toolRequest(map[string]any{
			"code": "print('hi')",
			"input_files": map[string]any{
				"data.csv": "not@base64!",
			},
		}))
		assert.Error(t, err)
	})
}

func TestHandleListAvailableLibraries(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{})

	result, err := s.handleListAvailableLibraries(context.Background(), toolRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var payload struct {
		AllowedLibraries []string `json:"allowed_libraries"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
	assert.Equal(t, []string{"csv", "json"}, payload.AllowedLibraries)
}

func TestDirectoryTools(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{})

	t.Run("CreateUser", func(t *testing.T) {
		result, err := s.handleCreateUser(context.Background(), toolRequest(map[string]any{
			"name":  "Dana Scully",
			"email": "dana@example.com",
			"role":  "admin",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var user store.User
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &user))
		assert.Equal(t, "Dana Scully", user.Name)
		assert.NotEmpty(t, user.ID)
	})

	t.Run("CreateUserInvalidRole", func(t *testing.T) {
		result, err := s.handleCreateUser(context.Background(), toolRequest(map[string]any{
			"name":  "X",
			"email": "x@example.com",
			"role":  "root",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("DeleteUser", func(t *testing.T) {
		result, err := s.handleDeleteUser(context.Background(), toolRequest(map[string]any{
			"user_id": "2",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		result, err = s.handleDeleteUser(context.Background(), toolRequest(map[string]any{
			"user_id": "2",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("UpdateDocument", func(t *testing.T) {
		result, err := s.handleUpdateDocument(context.Background(), toolRequest(map[string]any{
			"doc_id": "doc1",
			"title":  "Updated Guide",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var doc store.Document
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &doc))
		assert.Equal(t, "Updated Guide", doc.Title)
	})

	t.Run("SearchDocuments", func(t *testing.T) {
		result, err := s.handleSearchDocuments(context.Background(), toolRequest(map[string]any{
			"query": "api",
		}))
		require.NoError(t, err)

		var payload struct {
			Query      string               `json:"query"`
			Results    []store.SearchResult `json:"results"`
			TotalFound int                  `json:"total_found"`
		}
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
		assert.Equal(t, "api", payload.Query)
		assert.Equal(t, 1, payload.TotalFound)
	})

	t.Run("GetSystemStats", func(t *testing.T) {
		result, err := s.handleGetSystemStats(context.Background(), toolRequest(nil))
		require.NoError(t, err)

		var stats store.Stats
		require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &stats))
		assert.Equal(t, 2, stats.DocumentCount)
	})
}

func resourceRequest(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func TestResources(t *testing.T) {
	s := newTestServer(t, &fakeExecutor{})

	t.Run("ServerInfo", func(t *testing.T) {
		contents, err := s.handleServerInfoResource(context.Background(), resourceRequest("data://server-info"))
		require.NoError(t, err)
		require.Len(t, contents, 1)

		text, ok := contents[0].(mcp.TextResourceContents)
		require.True(t, ok)
		assert.Contains(t, text.Text, serverName)
		assert.Contains(t, text.Text, serverVersion)
	})

	t.Run("Users", func(t *testing.T) {
		contents, err := s.handleUsersResource(context.Background(), resourceRequest("data://users"))
		require.NoError(t, err)

		text := contents[0].(mcp.TextResourceContents)
		var payload struct {
			Users      []store.User `json:"users"`
			TotalCount int          `json:"total_count"`
		}
		require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
		assert.Equal(t, 3, payload.TotalCount)
	})

	t.Run("SingleUser", func(t *testing.T) {
		contents, err := s.handleUserResource(context.Background(), resourceRequest("data://user/1"))
		require.NoError(t, err)

		text := contents[0].(mcp.TextResourceContents)
		var user store.User
		require.NoError(t, json.Unmarshal([]byte(text.Text), &user))
		assert.Equal(t, "Alice Johnson", user.Name)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := s.handleUserResource(context.Background(), resourceRequest("data://user/999"))
		assert.Error(t, err)
	})

	t.Run("SingleDocument", func(t *testing.T) {
		contents, err := s.handleDocumentResource(context.Background(), resourceRequest("data://document/doc2"))
		require.NoError(t, err)

		text := contents[0].(mcp.TextResourceContents)
		var doc store.Document
		require.NoError(t, json.Unmarshal([]byte(text.Text), &doc))
		assert.Equal(t, "API Documentation", doc.Title)
	})
}
