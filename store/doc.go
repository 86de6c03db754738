// Package store provides the demo user and document directory.
//
// The store backs the directory resources and tools exposed next to code
// execution. It is an injected dependency with instance-owned, mutex-
// protected state rather than process-wide mutable globals, so servers and
// tests can each hold their own isolated copy.
package store
