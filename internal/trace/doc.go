// Package trace records what the optimizer does to each function.
//
// Spans bracket work (a pipeline run, one escape pass over one function) and points mark
// instants inside them (a merge, a loop iteration, a materialization). Whether an event is
// recorded depends on its Scope and the tracer's Level:
//
//	error   failures only
//	phase   driver and pass spans
//	detail  plus merges and loop iterations
//	debug   plus single materializations
//
// A StreamTracer writes events as they happen. A RingTracer keeps the last few thousand in
// memory and writes them out only if a function failed, which keeps detail-level tracing
// cheap on runs that succeed.
//
// The tracer and the enclosing span travel in a context.Context:
//
//	ctx = trace.WithTracer(ctx, t)
//	span := trace.BeginFunc(trace.FromContext(ctx), trace.ScopePass, g.Name, "escape", trace.CurrentSpan(ctx).SpanID)
//	defer span.End("")
package trace
