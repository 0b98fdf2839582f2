// Package planner decides which parts of a chart can be computed ahead of
// time, computes them, and either rewrites the chart with the results or
// returns the values of requested variables.
//
// A request runs in four steps:
//
//	load -> graph.Build -> classify -> evaluate -> rewrite | extract
//
// Every degraded outcome is reported as a Warning; only programmer errors
// are returned as errors.
package planner

import (
	"context"
	"errors"
	"time"

	"github.com/vk/pretransform/internal/executor"
	"github.com/vk/pretransform/internal/graph"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/transforms"
)

// DefaultTimeout is the per-request evaluation budget.
const DefaultTimeout = 30 * time.Second

// Loader parses chart text.
type Loader interface {
	Load(text string) (*spec.Chart, error)
}

// Executor runs a transform pipeline over a table.
type Executor interface {
	Execute(ctx context.Context, req transforms.Request) (*transforms.Result, error)
}

// TableDecoder decodes inline dataset payloads.
type TableDecoder interface {
	Decode(payload []byte) (*table.Table, error)
}

// Fetcher loads url-backed datasets. Without one, such datasets are left
// for the renderer.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, format *spec.Format) (*table.Table, error)
}

// Planner serves PreTransformSpec and PreTransformValues. It holds no
// per-request state and is safe for concurrent use.
type Planner struct {
	loader  Loader
	engine  Executor
	decoder TableDecoder
	fetcher Fetcher
	workers int
	timeout time.Duration
	now     func() time.Time

	pool *executor.Pool
}

// Option configures a Planner.
type Option func(*Planner)

// WithLoader replaces the chart loader.
func WithLoader(l Loader) Option { return func(p *Planner) { p.loader = l } }

// WithExecutor replaces the transform executor.
func WithExecutor(e Executor) Option { return func(p *Planner) { p.engine = e } }

// WithDecoder replaces the inline dataset decoder.
func WithDecoder(d TableDecoder) Option { return func(p *Planner) { p.decoder = d } }

// WithFetcher enables url-backed datasets.
func WithFetcher(f Fetcher) Option { return func(p *Planner) { p.fetcher = f } }

// WithWorkers sets how many nodes are evaluated concurrently.
func WithWorkers(n int) Option { return func(p *Planner) { p.workers = n } }

// WithTimeout sets the per-request evaluation budget.
func WithTimeout(d time.Duration) Option { return func(p *Planner) { p.timeout = d } }

// WithClock sets the clock behind now().
func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// New creates a Planner using the reference loader, executor and codec.
func New(opts ...Option) *Planner {
	p := &Planner{
		loader:  spec.NewLoader(),
		engine:  transforms.New(),
		decoder: table.Codec{},
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = executor.New(p.workers, p.timeout)
	return p
}

// Workers returns the number of concurrent evaluation workers.
func (p *Planner) Workers() int {
	return p.pool.Workers()
}

func (p *Planner) validate() error {
	switch {
	case p == nil:
		return errors.New("planner is nil")
	case p.loader == nil:
		return errors.New("planner has no loader")
	case p.engine == nil:
		return errors.New("planner has no executor")
	case p.decoder == nil:
		return errors.New("planner has no table decoder")
	}
	return nil
}

// request is the state of one PreTransformSpec or PreTransformValues call.
type request struct {
	p        *Planner
	chart    *spec.Chart
	graph    *graph.Graph
	order    []*graph.Node
	states   []*nodeState
	registry *registry
	warnings *collector

	local    *time.Location
	input    *time.Location
	now      time.Time
	rowLimit int
	preserve bool
}

// requestOptions are the inputs shared by both operations.
type requestOptions struct {
	text     string
	localTZ  string
	inputTZ  *string
	rowLimit *int
	inline   []InlineDataset
	preserve bool
}

// prepare loads the chart and builds its graph. A chart that cannot be
// loaded is returned as an error.
func (p *Planner) prepare(ctx context.Context, opts requestOptions) (*request, error) {
	chart, err := p.loader.Load(opts.text)
	if err != nil {
		return nil, err
	}

	r := &request{
		p:        p,
		chart:    chart,
		warnings: newCollector(),
		now:      p.now(),
		preserve: opts.preserve,
	}

	for _, problem := range chart.Problems {
		r.warnings.add(plannerWarning("%s is ignored: %s", problem.Path, problem.Msg))
	}

	r.local = time.UTC
	if loc, err := time.LoadLocation(opts.localTZ); err != nil {
		r.warnings.add(plannerWarning("local timezone %q is not valid; UTC is used instead", opts.localTZ))
	} else {
		r.local = loc
	}
	r.input = r.local
	if opts.inputTZ != nil {
		if loc, err := time.LoadLocation(*opts.inputTZ); err != nil {
			r.warnings.add(plannerWarning("default input timezone %q is not valid; the local timezone is used instead", *opts.inputTZ))
		} else {
			r.input = loc
		}
	}

	if opts.rowLimit != nil {
		switch {
		case *opts.rowLimit < 0:
			r.warnings.add(plannerWarning("row limit %d is negative; no limit is applied", *opts.rowLimit))
		default:
			r.rowLimit = *opts.rowLimit
		}
	}

	reg, warnings := newRegistry(p.decoder, opts.inline)
	r.registry = reg
	r.warnings.addAll(warnings)

	r.graph = graph.Build(ctx, chart)
	r.order = r.graph.TopoOrder()
	r.states = make([]*nodeState, len(r.graph.Nodes))
	for _, n := range r.graph.Nodes {
		r.states[n.Index] = &nodeState{node: n}
	}
	for _, dup := range r.graph.Duplicates {
		r.warnings.add(plannerWarning("%s is defined more than once; later definitions are ignored", dup))
	}
	return r, nil
}

func (r *request) state(n *graph.Node) *nodeState {
	return r.states[n.Index]
}

// collect merges node-local warnings in the given order.
func (r *request) collect(nodes []*graph.Node) {
	for _, n := range nodes {
		r.warnings.addAll(r.state(n).warnings)
	}
}
