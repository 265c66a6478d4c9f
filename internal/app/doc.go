// Package app wires the engine together: logger, block registry, graph
// store, execution state store, credit ledger, metrics, and event emitter.
// It selects the Redis-backed implementations when an address is
// configured and the in-memory ones otherwise, and exposes the execution
// lifecycle (start, inject, terminate, wait) over that assembly.
package app
