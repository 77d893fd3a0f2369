// Package telemetry provides OpenTelemetry instrumentation for agentgraph
// as a lifecycle-pipeline observer. Install a TraceObserver on an agent and
// every strategy, subgraph, node, tool call and model call becomes a span,
// parented along the execution tree the events describe.
package telemetry
