package sandbox

import (
	"context"
	"time"

	"github.com/docker/docker/client"

	"github.com/secrun/secrun/config"
	"github.com/secrun/secrun/workspace"
)

// MountTarget is the fixed path the workspace is mounted at inside the
// isolated unit. The run command references the code file under it.
const MountTarget = "/workspace"

// Limits describes the resource ceilings requested for every isolated
// unit. A unit is never started without them.
type Limits struct {
	Image       string
	MemoryBytes int64
	// CPUs is a fraction of a core, enforced via the CFS quota.
	CPUs float64
	// User is the non-privileged uid:gid the code runs as.
	User string
}

// LimitsFromConfig builds Limits from the application configuration.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		Image:       cfg.Sandbox.Image,
		MemoryBytes: cfg.MemoryBytes(),
		CPUs:        cfg.Sandbox.CPUs,
		User:        cfg.Sandbox.User,
	}
}

// Unit is a handle to a running isolated execution context.
type Unit struct {
	ID          string
	WorkspaceID string
}

// WaitResult reports how a unit left the running state: either it exited
// on its own (any exit code) or the watchdog killed it at the deadline.
type WaitResult struct {
	ExitCode int64
	TimedOut bool
}

// Runtime is the façade over the isolation backend. Implementations must
// make Destroy idempotent: destroying an already-removed unit is not an
// error, so cleanup can run unconditionally on every exit path.
type Runtime interface {
	// Start provisions and launches a detached unit executing the code
	// file in the given workspace under the given limits.
	Start(ctx context.Context, ws *workspace.Workspace, limits Limits) (*Unit, error)

	// Wait blocks until the unit exits or the timeout elapses. On timeout
	// the unit is force-killed before Wait returns, so logs collected
	// afterwards reflect its state at the moment of termination.
	Wait(ctx context.Context, unit *Unit, timeout time.Duration) (WaitResult, error)

	// Logs collects the captured stdout and stderr of the unit.
	Logs(ctx context.Context, unit *Unit) (stdout, stderr string, err error)

	// Destroy force-removes the unit, running or not.
	Destroy(ctx context.Context, unit *Unit) error
}

// NewClient creates a Docker API client from the environment.
func NewClient() (*client.Client, error) {
	return client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
}
