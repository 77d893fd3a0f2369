// Package agent is the composition root of agentgraph. An Agent wires a
// compiled strategy, the session context over conversational state, the
// lifecycle event pipeline, the tool environment and checkpoint storage
// into a single runnable unit.
//
// Design principles:
//   - Minimal hidden global state: the pipeline and environment are
//     explicit objects owned by the agent and passed down through the
//     Execution, never reached through package-level registries.
//   - One run at a time: a live Agent refuses a second concurrent Run
//     instead of interleaving node execution.
//   - Resumability: when checkpoint storage is configured, Run picks up
//     the latest persisted checkpoint for its lineage before executing.
//
// Model specifics, tool implementations and graph construction live in
// their respective packages; the agent only assembles them.
package agent
