package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pea/internal/escape"
	"pea/internal/ir"
	"pea/internal/irtext"
	"pea/internal/trace"
)

// Request describes one pipeline run.
type Request struct {
	Module  *irtext.Module
	Options escape.Options
	// Hooks identifies the hook functions in Options for cache keys. Leave it empty
	// when Options uses the hooks of escape.DefaultOptions.
	Hooks string
	// Jobs bounds concurrent functions; 0 uses GOMAXPROCS.
	Jobs     int
	Cache    *DiskCache
	Progress ProgressSink
	Metrics  *Metrics
}

// FuncResult is the outcome for one function.
type FuncResult struct {
	Name string
	// Text is the optimized function, or the unchanged function when Err is set.
	Text    string
	Stats   escape.Result
	Cached  bool
	Err     error
	Elapsed time.Duration
}

// Result collects the outcome of Optimize in module order.
type Result struct {
	Funcs []FuncResult
	// Busy is the time spent on all functions added up; with several jobs it exceeds
	// the wall-clock time of the run.
	Busy time.Duration
}

// Optimize runs escape analysis on every function of req.Module concurrently. Each
// function is analyzed on a copy; the module's graph is replaced only when the analysis
// succeeds, so a failing function is kept as it was. Per-function failures are joined into
// the returned error while the remaining functions are still processed.
func Optimize(ctx context.Context, req *Request) (Result, error) {
	m := req.Module
	res := Result{Funcs: make([]FuncResult, len(m.Funcs))}
	if len(m.Funcs) == 0 {
		return res, nil
	}

	t := trace.FromContext(ctx)
	span := trace.Begin(t, trace.ScopeDriver, "optimize", trace.CurrentSpan(ctx).SpanID).
		Int("funcs", len(m.Funcs)).
		Int("jobs", req.Jobs)
	defer span.End("")
	ctx = trace.WithSpan(ctx, span)

	header, err := moduleHeader(m)
	if err != nil {
		return res, err
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	for _, g := range m.Funcs {
		emit(req.Progress, Event{Func: g.Name, Status: StatusQueued})
	}

	// Each goroutine writes only its own index.
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(min(jobs, len(m.Funcs)))
	for i, g := range m.Funcs {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr, replacement := optimizeFunc(gctx, req, header, g)
			if replacement != nil {
				m.Funcs[i] = replacement
			}
			res.Funcs[i] = fr
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return res, err
	}

	var errs []error
	for _, fr := range res.Funcs {
		res.Busy += fr.Elapsed
		if fr.Err != nil {
			errs = append(errs, fmt.Errorf("func %s: %w", fr.Name, fr.Err))
		}
	}
	return res, errors.Join(errs...)
}

func moduleHeader(m *irtext.Module) (string, error) {
	var sb strings.Builder
	if err := irtext.Fprint(&sb, &irtext.Module{Universe: m.Universe}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func optimizeFunc(ctx context.Context, req *Request, header string, g *ir.Graph) (FuncResult, *ir.Graph) {
	start := time.Now()
	fr := FuncResult{Name: g.Name}
	t := trace.FromContext(ctx)
	span := trace.BeginFunc(t, trace.ScopePass, g.Name, "function", trace.CurrentSpan(ctx).SpanID)
	ctx = trace.WithSpan(ctx, span)
	emit(req.Progress, Event{Func: g.Name, Status: StatusWorking})
	finish := func(out *ir.Graph) (FuncResult, *ir.Graph) {
		fr.Elapsed = time.Since(start)
		req.Metrics.observe(fr.Stats, fr.Err, fr.Cached, start)
		status := StatusDone
		if fr.Err != nil {
			status = StatusFailed
			trace.Failure(t, g.Name, fr.Err, span.ID())
			span.End(fr.Err.Error())
		} else {
			span.Str("cached", strconv.FormatBool(fr.Cached)).Int("virtualized", fr.Stats.Virtualized).End("")
		}
		emit(req.Progress, Event{
			Func:        g.Name,
			Status:      status,
			Err:         fr.Err,
			Elapsed:     fr.Elapsed,
			Cached:      fr.Cached,
			Virtualized: fr.Stats.Virtualized,
		})
		return fr, out
	}

	in, err := irtext.FormatGraph(g)
	if err != nil {
		fr.Err = err
		return finish(nil)
	}

	var key CacheKey
	if req.Cache != nil {
		key = Key(header, in, req.Options, req.Hooks)
		if out, ok := fromCache(ctx, req, key, g); ok {
			fr.Text, fr.Stats, fr.Cached = out.text, out.stats, true
			return finish(out.graph)
		}
	}

	work := g.Clone()
	stats, err := escape.Run(ctx, work, req.Options)
	fr.Stats = stats
	if err != nil {
		fr.Text = in
		fr.Err = err
		return finish(nil)
	}
	text, err := irtext.FormatGraph(work)
	if err != nil {
		fr.Text = in
		fr.Err = err
		return finish(nil)
	}
	fr.Text = text

	if req.Cache != nil {
		entry := &CachedFunc{
			Name:         g.Name,
			Text:         text,
			Passes:       stats.Passes,
			Virtualized:  stats.Virtualized,
			Materialized: stats.Materialized,
			Effects:      stats.Effects,
			Changed:      stats.Changed,
		}
		if err := req.Cache.Put(key, entry); err != nil {
			span.Point(trace.ScopePass, "cache-store-failed", err.Error())
		}
	}
	return finish(work)
}

type cachedGraph struct {
	graph *ir.Graph
	text  string
	stats escape.Result
}

// fromCache rebuilds a function from a cache entry. Unreadable entries count as misses.
func fromCache(ctx context.Context, req *Request, key CacheKey, g *ir.Graph) (cachedGraph, bool) {
	t := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx).SpanID
	entry, ok, err := req.Cache.Get(key)
	if err != nil {
		trace.Point(t, trace.ScopePass, "cache-read-failed", err.Error(), parent)
	}
	if !ok || entry.Name != g.Name {
		req.Metrics.cacheLookup(false)
		return cachedGraph{}, false
	}
	out, err := irtext.ParseFunc(g.Universe, g.Name+"@cache", []byte(entry.Text))
	if err != nil {
		trace.Point(t, trace.ScopePass, "cache-entry-invalid", err.Error(), parent)
		req.Metrics.cacheLookup(false)
		return cachedGraph{}, false
	}
	req.Metrics.cacheLookup(true)
	return cachedGraph{graph: out, text: entry.Text, stats: entry.Stats()}, true
}

func emit(sink ProgressSink, evt Event) {
	if sink != nil {
		sink.OnEvent(evt)
	}
}
