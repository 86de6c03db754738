// Package validator provides static import validation for submitted code.
//
// The validator package inspects untrusted Python source without executing
// it and rejects any code whose top-level imports reference modules outside
// a configured allow-list. Source that cannot be read as Python is rejected
// as well, so a scanner failure can never let an import through unseen.
//
// Validation is the first step of every execution request and allocates no
// resources, which keeps the cost of rejecting bad code proportional to
// scanning the source, not to provisioning a sandbox.
package validator
