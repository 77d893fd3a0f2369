// Package graph implements the agent execution engine: an immutable graph of
// nodes connected by conditionally-resolved edges, grouped into nested
// reusable subgraphs under a single runnable Strategy, walked per run by the
// Engine state machine.
//
// Graph objects are built once and shared, read-only, across every run. All
// per-run state (the execution cursor, pending checkpoint data, iteration
// counters) lives in the Execution created at run entry, so concurrent runs
// of different agents over the same strategy never interfere.
package graph
