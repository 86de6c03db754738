// Package engine orchestrates secure code execution requests.
//
// The engine package ties the import validator, workspace manager, and
// isolation runtime into one request/response cycle. A request is checked
// statically before anything is allocated, runs in a detached isolated
// unit bounded by a watchdog timeout, and has its workspace and unit
// released on every exit path, including provisioning failures.
//
// Timed-out executions are reported with an explicit indicator instead of
// being conflated with runs that completed silently, and failures of the
// sandboxed code itself are captured output, not engine errors.
package engine
