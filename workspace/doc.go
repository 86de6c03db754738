// Package workspace manages per-request scratch directories.
//
// The workspace package allocates a uniquely named directory for each
// execution request, populates it with the submitted code and any input
// files, harvests output files produced by the sandboxed process, and
// guarantees removal when the request finishes. Workspaces under a shared
// root are namespaced by uuid, so concurrent requests never collide.
//
// Usage:
//
//	mgr := workspace.NewManager(logger, "/tmp/secrun-workspace")
//	ws, err := mgr.Acquire()
//	if err != nil {
//	    return err
//	}
//	defer mgr.Release(ws)
package workspace
