// Package core contains the shared value types every other agentgraph package
// builds on: conversational messages, prompts, model references and the
// identifier helpers used to correlate executions. It intentionally has no
// dependencies on the engine, session or pipeline packages so it can sit at
// the bottom of the import graph.
package core
