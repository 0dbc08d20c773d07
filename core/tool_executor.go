package core

import "context"

// ToolExecutor dispatches a tool call by function name to the external
// tool-execution layer (V8-sandboxed JS tools, in production) and returns
// the observable result string. Convention: successful results do not
// begin with a visible failure marker; failing results do.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input map[string]any) (string, error)
}
