// Package main is the entry point for the secrun MCP server.
//
// The secrun server implements a secure Model Context Protocol (MCP) server
// that executes untrusted Python code in isolated, resource-bounded,
// network-disabled containers. The server supports both stdio and HTTP
// transports and statically validates imports against an allow-list before
// any sandbox is provisioned.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/secrun/secrun/config"
	"github.com/secrun/secrun/engine"
	"github.com/secrun/secrun/logger"
	"github.com/secrun/secrun/mcpserver"
	"github.com/secrun/secrun/sandbox"
	"github.com/secrun/secrun/store"
	"github.com/secrun/secrun/validator"
	"github.com/secrun/secrun/workspace"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Docker client and isolation runtime
			sandbox.NewClient,
			sandbox.NewRuntime,

			// Import validator and workspace manager
			validator.NewFromConfig,
			workspace.NewManagerFromConfig,

			// Execution engine
			engine.New,
			func(e *engine.Engine) mcpserver.CodeExecutor { return e },

			// Demo directory store
			store.New,

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
