package evaluator

import (
	"context"

	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/runtime"
	"tangram/internal/value"
)

// evaluateTarget dispatches a Target operation (spec §4.4 case 1): create a
// fresh isolate bound to the target's package, invoke the named export, and
// return its resolved value. The isolate is created per invocation and
// discarded afterward (spec §4.5.1); evalHost supplies its Host surface.
func (e *Evaluator) evaluateTarget(ctx context.Context, opID id.ID, t object.Target, b *logBuilder) (value.Value, []id.ID, error) {
	host := &evalHost{e: e, ctx: ctx, log: b, currentModule: t.ModulePath}
	iso := runtime.New(host, t.Package)

	result, err := iso.InvokeTarget(ctx, t.ModulePath, t.Name, t.Args, t.Env)
	if err != nil {
		return value.Value{}, b.snapshotChildren(), err
	}
	return result, b.snapshotChildren(), nil
}
