package ctm

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/util"
)

// Options are options for Run.
type Options struct {
	chi       int
	criterion Criterion
	signal    Signal
	seed      Seed
	fixedEdge bool
	throttler *util.SkipThrottler
}

// NewOptions returns the default options of Run.
func NewOptions() Options {
	opt := Options{}
	opt.chi = 16
	opt.criterion = Criterion{Tol: 1e-9, MaxSteps: 5000, Lag: 1}
	opt.signal = SignalSingularValues
	opt.seed = SeedUp
	return opt
}

// Chi sets the bond dimension.
func (opt Options) Chi(chi int) Options {
	opt.chi = chi
	return opt
}

// Tol sets the convergence threshold.
func (opt Options) Tol(tol float64) Options {
	opt.criterion.Tol = tol
	return opt
}

// MaxSteps sets the largest number of renormalization steps.
func (opt Options) MaxSteps(n int) Options {
	opt.criterion.MaxSteps = n
	return opt
}

// Lag sets the number of steps between the compared convergence signals.
func (opt Options) Lag(lag int) Options {
	opt.criterion.Lag = lag
	return opt
}

// Relative sets whether the change of the convergence signal is measured relative to its magnitude.
func (opt Options) Relative(relative bool) Options {
	opt.criterion.Relative = relative
	return opt
}

// Signal sets the convergence signal.
func (opt Options) Signal(s Signal) Options {
	opt.signal = s
	return opt
}

// Seed sets the initial environment used when Run is not given a state to start from.
func (opt Options) Seed(s Seed) Options {
	opt.seed = s
	return opt
}

// FixedEdge sets whether the environment also grows an upper edge whose boundary spins are fixed to +1,
// from which Observables.FixedMagnetization and Observables.LogFixedRatio are extracted.
// It requires a boundary seed.
func (opt Options) FixedEdge(b bool) Options {
	opt.fixedEdge = b
	return opt
}

// Throttler sets the throttler of progress logs. Logs are off when it is nil.
func (opt Options) Throttler(tt *util.SkipThrottler) Options {
	opt.throttler = tt
	return opt
}

// Criterion returns the stopping criterion of opt.
func (opt Options) Criterion() Criterion { return opt.criterion }

// Validate checks that the options can drive Run.
func (opt Options) Validate() error {
	if opt.chi <= 0 {
		return errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("chi %d", opt.chi))
	}
	if err := opt.criterion.validate(); err != nil {
		return errors.Wrap(err, "")
	}
	switch opt.signal {
	case SignalSingularValues, SignalMagnetization:
	default:
		return errors.Wrap(blumecapel.ErrInvalidParameter, opt.signal.String())
	}
	switch opt.seed {
	case SeedUp, SeedDown, SeedFree, SeedRandom:
	default:
		return errors.Wrap(blumecapel.ErrInvalidParameter, opt.seed.String())
	}
	if opt.fixedEdge && opt.seed == SeedRandom {
		return errors.Wrap(blumecapel.ErrInvalidParameter, "fixed edge with random seed")
	}
	return nil
}

// Result is the outcome of Run.
type Result struct {
	// State is the last environment, converged or not.
	State *State
	Observables
	// Converged is false when the step limit was reached first.
	Converged bool
	// Steps is the number of renormalization steps taken by this run.
	Steps int
	// Signals is the convergence signal after every step.
	Signals []float64
}

// RunError is returned by Run when a model point fails.
type RunError struct {
	Point blumecapel.ModelPoint
	// Step is the number of steps completed before the failure.
	Step int
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%v step %d: %v", e.Point, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Run iterates renormalization steps at model point p until the convergence signal settles
// or the step limit is reached, and extracts the observables of the final environment.
// If seed is not nil, the iteration starts from it instead of the environment selected by the
// Seed option. The seed is not modified.
//
// Reaching the step limit is not an error: the result then has Converged set to false.
// Cancelling ctx stops the iteration at the next step boundary. The returned result then holds
// the last complete state.
func Run(ctx context.Context, p blumecapel.ModelPoint, seed *State, options ...Options) (Result, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := opt.Validate(); err != nil {
		return Result{}, &RunError{Point: p, Err: err}
	}
	a, err := blumecapel.LocalWeight(p)
	if err != nil {
		return Result{}, &RunError{Point: p, Err: err}
	}

	var s *State
	if seed != nil {
		s = seed.WarmStart()
	} else {
		s, err = NewState(a, opt.seed, opt.chi)
		if err != nil {
			return Result{}, &RunError{Point: p, Err: err}
		}
	}
	if opt.fixedEdge && !s.HasFixedEdge() {
		if s, err = s.WithFixedEdge(a); err != nil {
			return Result{}, &RunError{Point: p, Err: err}
		}
	}

	res := Result{State: s}
	for {
		if err := ctx.Err(); err != nil {
			return res, &RunError{Point: p, Step: res.Steps, Err: errors.Wrap(err, "")}
		}

		next, sv, err := Advance(res.State, a, opt.chi)
		if err != nil {
			return res, &RunError{Point: p, Step: res.Steps, Err: err}
		}
		res.State = next
		res.Steps++

		signal := singularValueSignal(sv)
		if opt.signal == SignalMagnetization {
			obs, err := Extract(res.State, p)
			if err != nil {
				return res, &RunError{Point: p, Step: res.Steps, Err: err}
			}
			signal = math.Abs(obs.Magnetization)
		}
		res.Signals = append(res.Signals, signal)

		status := opt.criterion.ShouldStop(res.Signals)
		if opt.throttler != nil && (opt.throttler.Ok() || status != Continue) {
			log.Printf("%v step %d dim %d signal %.12g %v", p, res.Steps, res.State.Dim(), signal, status)
		}
		if status != Continue {
			res.Converged = status == Converged
			break
		}
	}

	res.Observables, err = Extract(res.State, p)
	if err != nil {
		return res, &RunError{Point: p, Step: res.Steps, Err: err}
	}
	return res, nil
}
