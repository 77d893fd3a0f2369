package graph

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Resolver inspects a node's output and decides whether the edge fires.
// When it fires it returns the input for the target node. Resolvers must
// be side-effect free; the engine evaluates candidates in declaration
// order and commits to the first match.
type Resolver func(ctx context.Context, exec *Execution, output any) (input any, ok bool, err error)

// Candidate binds a target node name to the resolver guarding the edge.
type Candidate struct {
	To      string
	Resolve Resolver
}

// Forward returns a resolver that always fires and forwards the output
// unchanged. The usual choice for linear sequences.
func Forward() Resolver {
	return func(_ context.Context, _ *Execution, output any) (any, bool, error) {
		return output, true, nil
	}
}

// When returns a resolver gated by a predicate over the node output. The
// output is forwarded unchanged when the predicate holds.
func When(pred func(output any) bool) Resolver {
	return func(_ context.Context, _ *Execution, output any) (any, bool, error) {
		if !pred(output) {
			return nil, false, nil
		}
		return output, true, nil
	}
}

// Map returns a resolver that always fires and transforms the output into
// the target node's input.
func Map(transform func(output any) any) Resolver {
	return func(_ context.Context, _ *Execution, output any) (any, bool, error) {
		return transform(output), true, nil
	}
}

// WhenExpr returns a resolver gated by an expression over the node output.
// The expression sees the output as "output" and must evaluate to a
// boolean. Compilation happens once, at construction; an invalid
// expression panics, matching edge declaration being a build-time concern.
//
//	g.AddEdge("grade", graph.Candidate{To: "retry", Resolve: graph.WhenExpr(`output.score < 0.5`)})
func WhenExpr(code string) Resolver {
	program, err := expr.Compile(code, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		panic(fmt.Sprintf("graph: invalid edge expression %q: %v", code, err))
	}
	return exprResolver(code, program)
}

func exprResolver(code string, program *vm.Program) Resolver {
	return func(_ context.Context, _ *Execution, output any) (any, bool, error) {
		res, err := expr.Run(program, map[string]any{"output": output})
		if err != nil {
			return nil, false, fmt.Errorf("graph: edge expression %q: %w", code, err)
		}
		ok, isBool := res.(bool)
		if !isBool {
			return nil, false, fmt.Errorf("graph: edge expression %q returned %T, want bool", code, res)
		}
		if !ok {
			return nil, false, nil
		}
		return output, true, nil
	}
}
