// Package sandbox provides the isolation runtime client.
//
// The sandbox package is a thin façade over the container backend used to
// run untrusted code. It provisions detached, resource-limited containers
// with networking disabled and a single workspace bind-mount, waits for
// completion under a watchdog deadline, collects captured output, and
// force-removes units regardless of how they exited.
//
// A unit moves through Created, Running, then Completed or Killed, and is
// always Removed before the owning request finishes. Destroy tolerates
// units that are already gone, so cleanup paths can call it blindly.
package sandbox
