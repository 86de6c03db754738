package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secrun/secrun/config"
	"github.com/secrun/secrun/sandbox"
	"github.com/secrun/secrun/validator"
	"github.com/secrun/secrun/workspace"
)

// Request is a single code execution request.
type Request struct {
	Code string
	// Timeout is the wall-clock budget for the sandboxed process. Zero
	// means the configured default; values above the configured maximum
	// are rejected before any resource is allocated.
	Timeout    time.Duration
	InputFiles []workspace.InputFile
}

// Result is the outcome of a request. Failures of the sandboxed code
// itself (non-zero exit, crashes) are data in Stdout/Stderr/ExitCode,
// not reflected in Error. Error is set only when the engine rejected or
// could not run the request.
type Result struct {
	Stdout      string
	Stderr      string
	ExitCode    int64
	Error       string
	TimedOut    bool
	OutputFiles []string
}

// Engine orchestrates one request/response cycle: validate, provision a
// workspace and an isolated unit, race completion against the watchdog,
// harvest outputs, and release everything on every exit path.
type Engine struct {
	logger     *zap.Logger
	validator  *validator.Validator
	workspaces *workspace.Manager
	runtime    sandbox.Runtime
	limits     sandbox.Limits

	defaultTimeout time.Duration
	maxTimeout     time.Duration

	// sem bounds concurrently running sandboxes; nil means unbounded.
	sem chan struct{}
}

// New creates an Engine wired to the given collaborators.
func New(logger *zap.Logger, cfg *config.Config, v *validator.Validator, ws *workspace.Manager, rt sandbox.Runtime) *Engine {
	var sem chan struct{}
	if cfg.Engine.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.Engine.MaxConcurrent)
	}

	return &Engine{
		logger:         logger,
		validator:      v,
		workspaces:     ws,
		runtime:        rt,
		limits:         sandbox.LimitsFromConfig(cfg),
		defaultTimeout: cfg.DefaultTimeout(),
		maxTimeout:     cfg.MaxTimeout(),
		sem:            sem,
	}
}

// Execute runs one request end to end and always returns exactly one
// Result. All failures are reported in-band through Result.Error.
func (e *Engine) Execute(ctx context.Context, req Request) Result {
	if req.Code == "" {
		return failure("code must not be empty")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout > e.maxTimeout {
		return failure(fmt.Sprintf("timeout exceeds maximum allowed: %s", e.maxTimeout))
	}

	if err := e.validator.Validate(req.Code); err != nil {
		e.logger.Info("request rejected by import validator", zap.Error(err))
		return failure(err.Error())
	}

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return failure("request cancelled while waiting for an execution slot")
		}
	}

	// Once provisioning begins the request runs to completion or timeout;
	// a disconnected caller must not abort harvesting or cleanup.
	ctx = context.WithoutCancel(ctx)

	ws, err := e.workspaces.Acquire()
	if err != nil {
		e.logger.Error("failed to acquire workspace", zap.Error(err))
		return failure(fmt.Sprintf("failed to prepare workspace: %v", err))
	}
	defer e.workspaces.Release(ws)

	if err := e.workspaces.Populate(ws, req.Code, req.InputFiles); err != nil {
		e.logger.Error("failed to populate workspace",
			zap.String("workspace_id", ws.ID),
			zap.Error(err))
		return failure(fmt.Sprintf("failed to prepare workspace: %v", err))
	}

	unit, err := e.runtime.Start(ctx, ws, e.limits)
	if err != nil {
		e.logger.Error("failed to provision isolated unit",
			zap.String("workspace_id", ws.ID),
			zap.Error(err))
		return failure(fmt.Sprintf("failed to provision sandbox: %v", err))
	}
	defer func() {
		if destroyErr := e.runtime.Destroy(ctx, unit); destroyErr != nil {
			e.logger.Warn("failed to destroy isolated unit",
				zap.String("unit_id", unit.ID),
				zap.Error(destroyErr))
		}
	}()

	e.logger.Info("executing code in sandbox",
		zap.String("workspace_id", ws.ID),
		zap.String("unit_id", unit.ID),
		zap.Duration("timeout", timeout),
		zap.Int("input_files", len(req.InputFiles)))

	wait, err := e.runtime.Wait(ctx, unit, timeout)
	if err != nil {
		e.logger.Error("failed waiting for isolated unit",
			zap.String("unit_id", unit.ID),
			zap.Error(err))
		return failure(fmt.Sprintf("execution failed: %v", err))
	}

	// Log collection after a kill is best-effort.
	stdout, stderr, err := e.runtime.Logs(ctx, unit)
	if err != nil {
		e.logger.Warn("failed to collect sandbox output",
			zap.String("unit_id", unit.ID),
			zap.Error(err))
	}

	outputFiles, err := e.workspaces.Harvest(ws)
	if err != nil {
		e.logger.Error("failed to harvest output files",
			zap.String("workspace_id", ws.ID),
			zap.Error(err))
		return failure(fmt.Sprintf("failed to collect output files: %v", err))
	}

	e.logger.Info("code execution completed",
		zap.String("unit_id", unit.ID),
		zap.Int64("exit_code", wait.ExitCode),
		zap.Bool("timed_out", wait.TimedOut),
		zap.Int("output_files", len(outputFiles)))

	return Result{
		Stdout:      stdout,
		Stderr:      stderr,
		ExitCode:    wait.ExitCode,
		TimedOut:    wait.TimedOut,
		OutputFiles: outputFiles,
	}
}

func failure(msg string) Result {
	return Result{Error: msg, OutputFiles: []string{}}
}
