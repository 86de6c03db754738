package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/secrun/secrun/workspace"
)

// cpuPeriod is the CFS scheduling period the CPU quota is expressed
// against: a quota of cpus*cpuPeriod grants that fraction of a core.
const cpuPeriod = 100000

// killSyncTimeout bounds how long Wait blocks for the backend to confirm
// a kill, keeping timed-out requests within a small margin of the deadline.
const killSyncTimeout = 5 * time.Second

// ContainerAPI is the subset of the Docker client used by the runtime.
// It exists as a seam so tests can run without a Docker daemon.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	logger *zap.Logger
	api    ContainerAPI
}

// NewDockerRuntime creates a DockerRuntime using the given API client.
func NewDockerRuntime(logger *zap.Logger, api ContainerAPI) *DockerRuntime {
	return &DockerRuntime{logger: logger, api: api}
}

// NewRuntime creates the Runtime used by the execution engine.
func NewRuntime(logger *zap.Logger, cli *client.Client) Runtime {
	return NewDockerRuntime(logger, cli)
}

// Start creates and launches a detached container with the workspace
// mounted read-write, no network, hard memory and CPU ceilings, all
// capabilities dropped, and the command fixed to interpreting the code
// file. There is no shell in the command line.
func (r *DockerRuntime) Start(ctx context.Context, ws *workspace.Workspace, limits Limits) (*Unit, error) {
	name := "secrun-" + ws.ID

	created, err := r.api.ContainerCreate(
		ctx,
		&container.Config{
			Image:           limits.Image,
			Cmd:             strslice.StrSlice{"python", path.Join(MountTarget, workspace.CodeFileName)},
			WorkingDir:      MountTarget,
			User:            limits.User,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			NetworkMode: "none",
			Mounts: []mount.Mount{
				{
					Type:   mount.TypeBind,
					Source: ws.Root,
					Target: MountTarget,
				},
			},
			Resources: container.Resources{
				Memory:    limits.MemoryBytes,
				CPUPeriod: cpuPeriod,
				CPUQuota:  int64(limits.CPUs * cpuPeriod),
			},
			CapDrop:     strslice.StrSlice{"ALL"},
			SecurityOpt: []string{"no-new-privileges:true"},
		},
		nil,
		nil,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	unit := &Unit{ID: created.ID, WorkspaceID: ws.ID}

	if err := r.api.ContainerStart(ctx, unit.ID, container.StartOptions{}); err != nil {
		// The container was created but never ran; remove it here since
		// the caller only takes ownership of started units.
		if destroyErr := r.Destroy(ctx, unit); destroyErr != nil {
			r.logger.Warn("failed to remove unstarted container",
				zap.String("container_id", unit.ID),
				zap.Error(destroyErr))
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	r.logger.Debug("container started",
		zap.String("container_id", unit.ID),
		zap.String("workspace_id", ws.ID))

	return unit, nil
}

// Wait races unit completion against the timeout. When the timer fires
// first the unit is force-killed, and Wait still synchronizes with the
// exit before returning so log collection sees the final state.
func (r *DockerRuntime) Wait(ctx context.Context, unit *Unit, timeout time.Duration) (WaitResult, error) {
	waitCh, errCh := r.api.ContainerWait(ctx, unit.ID, container.WaitConditionNotRunning)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-waitCh:
		return WaitResult{ExitCode: status.StatusCode}, nil

	case err := <-errCh:
		return WaitResult{}, fmt.Errorf("failed waiting for container: %w", err)

	case <-timer.C:
		if err := r.api.ContainerKill(ctx, unit.ID, "KILL"); err != nil && !cerrdefs.IsNotFound(err) {
			r.logger.Warn("failed to kill container after timeout",
				zap.String("container_id", unit.ID),
				zap.Error(err))
		}

		// Synchronize with the exit so that Destroy is never racing a
		// still-running unit, but never block past a bounded grace period.
		select {
		case <-waitCh:
		case <-errCh:
		case <-time.After(killSyncTimeout):
			r.logger.Warn("container did not confirm exit after kill",
				zap.String("container_id", unit.ID))
		}

		return WaitResult{TimedOut: true}, nil
	}
}

// Logs collects the demultiplexed stdout and stderr streams of the unit.
func (r *DockerRuntime) Logs(ctx context.Context, unit *Unit) (string, string, error) {
	reader, err := r.api.ContainerLogs(ctx, unit.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch container logs: %w", err)
	}
	defer reader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Destroy force-removes the unit. A unit that is already gone is treated
// as success, so repeated destruction and daemon-side races are harmless.
func (r *DockerRuntime) Destroy(ctx context.Context, unit *Unit) error {
	err := r.api.ContainerRemove(ctx, unit.ID, container.RemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}
