// Package sweep evaluates the Blume-Capel model over a grid of one of its parameters.
//
// Points of a grid are independent and run concurrently, unless warm starting is requested.
// A warm started chain hands the converged environment of each point over to the next one, so
// the points of a chain run in order. With bidirectional sweeps, a forward and a reverse chain run
// concurrently, which exposes hysteresis near first order transitions.
package sweep

import (
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/ctm"
	"github.com/fumin/blumecapel/util"
)

const (
	instrumentationName = "github.com/fumin/blumecapel/sweep"
)

// Param is the swept parameter of the model.
type Param int

const (
	ParamTemperature Param = iota
	ParamCoupling
	ParamAnisotropy
)

func (p Param) String() string {
	switch p {
	case ParamTemperature:
		return "temperature"
	case ParamCoupling:
		return "coupling"
	case ParamAnisotropy:
		return "anisotropy"
	default:
		return fmt.Sprintf("Param(%d)", int(p))
	}
}

// ParseParam parses the output of Param.String.
func ParseParam(s string) (Param, error) {
	for _, p := range []Param{ParamTemperature, ParamCoupling, ParamAnisotropy} {
		if p.String() == s {
			return p, nil
		}
	}
	return -1, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("param %q", s))
}

// Direction is the order in which a chain visits the grid.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses the output of Direction.String.
func ParseDirection(s string) (Direction, error) {
	for _, d := range []Direction{Forward, Reverse} {
		if d.String() == s {
			return d, nil
		}
	}
	return -1, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("direction %q", s))
}

// Grid is the set of model points that differ from Base in Param only.
type Grid struct {
	Base   blumecapel.ModelPoint
	Param  Param
	Values []float64
}

// Point returns the i-th model point of the grid.
func (g Grid) Point(i int) (blumecapel.ModelPoint, error) {
	v := g.Values[i]
	var p blumecapel.ModelPoint
	var err error
	switch g.Param {
	case ParamTemperature:
		p, err = g.Base.WithTemperature(v)
	case ParamCoupling:
		p, err = g.Base.WithCoupling(v)
	case ParamAnisotropy:
		p, err = g.Base.WithAnisotropy(v)
	default:
		return blumecapel.ModelPoint{}, errors.Wrap(blumecapel.ErrInvalidParameter, g.Param.String())
	}
	if err != nil {
		return blumecapel.ModelPoint{}, errors.Wrap(err, fmt.Sprintf("%s %g", g.Param, v))
	}
	return p, nil
}

// Validate checks that every point of the grid is a valid model point.
func (g Grid) Validate() error {
	if len(g.Values) == 0 {
		return errors.Wrap(blumecapel.ErrInvalidParameter, "empty grid")
	}
	for i := range g.Values {
		if _, err := g.Point(i); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// Range returns start, start+step, ... up to and including stop.
// A negative step sweeps downwards.
func Range(start, stop, step float64) ([]float64, error) {
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("%g %g %g", start, stop, step))
		}
	}
	if step == 0 || (stop-start)/step < 0 {
		return nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("%g %g %g", start, stop, step))
	}

	// Rounding would otherwise drop stop.
	n := int(math.Floor((stop-start)/step+1e-9)) + 1
	values := make([]float64, 0, n)
	for i := range n {
		values = append(values, start+float64(i)*step)
	}
	return values, nil
}

// Record is the outcome of one point of a sweep.
type Record struct {
	Direction Direction
	// Index is the position of the point in Grid.Values.
	Index int
	Point blumecapel.ModelPoint
	ctm.Observables
	// CorrelationLength is zero unless requested by Options.CorrelationLength.
	CorrelationLength float64
	Converged         bool
	Steps             int
	// WarmStarted is true when the point was seeded by its predecessor in the chain.
	WarmStarted bool
	Duration    time.Duration
	// Err is the failure of the point, in which case the observables are not meaningful.
	Err error
}

// Sink receives the records of a sweep as soon as they are available.
// Write is never called concurrently.
type Sink interface {
	Write(ctx context.Context, r Record) error
}

// Options are options for Run.
type Options struct {
	solver        ctm.Options
	usePrev       bool
	bidirectional bool
	workers       int
	xi            bool
	collector     *Collector
	tracer        trace.Tracer
	throttler     *util.SkipThrottler
}

// NewOptions returns the default options of Run.
func NewOptions() Options {
	opt := Options{}
	opt.solver = ctm.NewOptions()
	opt.workers = 1
	return opt
}

// Solver sets the options of every point.
func (opt Options) Solver(s ctm.Options) Options {
	opt.solver = s
	return opt
}

// UsePrev sets whether each point is seeded by the final environment of the previous point.
func (opt Options) UsePrev(usePrev bool) Options {
	opt.usePrev = usePrev
	return opt
}

// Bidirectional sets whether warm started chains are run in both directions.
// Without warm starting both directions give identical results, and only the forward one is run.
func (opt Options) Bidirectional(b bool) Options {
	opt.bidirectional = b
	return opt
}

// Workers sets the largest number of points evaluated concurrently.
func (opt Options) Workers(n int) Options {
	opt.workers = n
	return opt
}

// CorrelationLength sets whether the correlation length of every point is computed.
func (opt Options) CorrelationLength(b bool) Options {
	opt.xi = b
	return opt
}

// Collector sets the metrics of the sweep.
func (opt Options) Collector(c *Collector) Options {
	opt.collector = c
	return opt
}

// Tracer sets the tracer that records a span per point.
func (opt Options) Tracer(t trace.Tracer) Options {
	opt.tracer = t
	return opt
}

// Throttler sets the throttler of progress logs.
func (opt Options) Throttler(tt *util.SkipThrottler) Options {
	opt.throttler = tt
	return opt
}

// Run evaluates every point of g, and returns the records ordered by direction and index.
// A failed point does not stop the sweep, its error is reported in its record. In a warm started
// chain, the point after a failure is seeded by the last successful one.
// Errors returned by sink, and the cancellation of ctx, stop the sweep.
func Run(ctx context.Context, g Grid, sink Sink, options ...Options) ([]Record, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := g.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if opt.workers <= 0 {
		return nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("workers %d", opt.workers))
	}
	if opt.tracer == nil {
		opt.tracer = otel.Tracer(instrumentationName)
	}

	r := &runner{grid: g, sink: sink, opt: opt}
	eg, ctx := errgroup.WithContext(ctx)
	switch {
	case opt.usePrev:
		eg.Go(func() error { return r.chain(ctx, Forward) })
		if opt.bidirectional {
			eg.Go(func() error { return r.chain(ctx, Reverse) })
		}
	default:
		eg.SetLimit(opt.workers)
		for i := range g.Values {
			eg.Go(func() error {
				_, err := r.point(ctx, Forward, i, nil)
				return err
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	slices.SortFunc(r.records, func(a, b Record) int {
		if a.Direction != b.Direction {
			return int(a.Direction) - int(b.Direction)
		}
		return a.Index - b.Index
	})
	return r.records, nil
}

type runner struct {
	grid Grid
	sink Sink
	opt  Options

	mu      sync.Mutex
	records []Record
}

// chain runs the points of the grid in order, seeding each point with the last converged state.
func (r *runner) chain(ctx context.Context, dir Direction) error {
	indices := make([]int, len(r.grid.Values))
	for i := range indices {
		indices[i] = i
	}
	if dir == Reverse {
		slices.Reverse(indices)
	}

	var seed *ctm.State
	for _, i := range indices {
		s, err := r.point(ctx, dir, i, seed)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if s != nil {
			seed = s
		}
	}
	return nil
}

// point evaluates the i-th point and returns its final state, or nil if the point failed.
func (r *runner) point(ctx context.Context, dir Direction, i int, seed *ctm.State) (*ctm.State, error) {
	p, err := r.grid.Point(i)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ctx, span := r.startSpan(ctx, dir, i, p)
	defer span.End()
	r.opt.collector.begin()
	start := time.Now()
	res, err := ctm.Run(ctx, p, seed, r.opt.solver)
	duration := time.Since(start)
	r.opt.collector.end()

	// Cancellation is not a failure of the point.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Wrap(ctxErr, "")
	}

	rec := Record{Direction: dir, Index: i, Point: p, WarmStarted: seed != nil, Duration: duration, Err: err}
	if err == nil {
		rec.Observables = res.Observables
		rec.Converged = res.Converged
		rec.Steps = res.Steps
		if r.opt.xi {
			rec.CorrelationLength, err = ctm.CorrelationLength(res.State)
			rec.Err = err
		}
	}
	if err != nil {
		var runErr *ctm.RunError
		if errors.As(err, &runErr) {
			rec.Steps = runErr.Step
		}
	}
	endSpan(span, rec)
	r.opt.collector.observe(rec)

	if err := r.add(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err != nil || (r.opt.throttler != nil && r.opt.throttler.Ok()) {
		log.Printf("%v %d %v m %.8f f %.10f converged %v steps %d err %v", dir, i, p, rec.Magnetization, rec.FreeEnergy, rec.Converged, rec.Steps, err)
	}

	if err != nil {
		return nil, nil
	}
	return res.State, nil
}

func (r *runner) add(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.sink == nil {
		return nil
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%v %d", rec.Direction, rec.Index))
	}
	return nil
}
