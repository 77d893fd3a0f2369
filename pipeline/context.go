package pipeline

import "context"

type executionKey struct{}

// ContextWithExecution returns a context carrying the identity of the
// execution currently driving the call chain. The engine refreshes this at
// every strategy, subgraph and node boundary so downstream emitters (session
// model calls, tool dispatch) can attribute their events to the correct
// position in the call tree.
func ContextWithExecution(ctx context.Context, info ExecutionInfo) context.Context {
	return context.WithValue(ctx, executionKey{}, info)
}

// ExecutionFromContext extracts the current execution identity. The boolean
// reports whether one was set.
func ExecutionFromContext(ctx context.Context) (ExecutionInfo, bool) {
	info, ok := ctx.Value(executionKey{}).(ExecutionInfo)
	return info, ok
}
