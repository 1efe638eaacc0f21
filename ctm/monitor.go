package ctm

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/blumecapel"
)

// Status is the state of the iteration after a renormalization step.
type Status int

const (
	Continue Status = iota
	Converged
	MaxStepsReached
)

func (s Status) String() string {
	switch s {
	case Continue:
		return "continue"
	case Converged:
		return "converged"
	case MaxStepsReached:
		return "max steps reached"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Signal selects the scalar that is tracked for convergence.
type Signal int

const (
	// SignalSingularValues is the sum of the retained singular values of the enlarged corner,
	// divided by the largest one.
	SignalSingularValues Signal = iota
	// SignalMagnetization is the absolute value of the magnetization.
	SignalMagnetization
)

func (s Signal) String() string {
	switch s {
	case SignalSingularValues:
		return "singular_values"
	case SignalMagnetization:
		return "magnetization"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// ParseSignal parses the output of Signal.String.
func ParseSignal(s string) (Signal, error) {
	for _, sig := range []Signal{SignalSingularValues, SignalMagnetization} {
		if sig.String() == s {
			return sig, nil
		}
	}
	return -1, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("signal %q", s))
}

// Criterion decides when the iteration stops.
type Criterion struct {
	// Tol is the largest change of the signal regarded as converged.
	Tol float64
	// MaxSteps is the largest number of steps.
	MaxSteps int
	// Lag is the number of steps between the two compared signals.
	Lag int
	// Relative divides the change by the magnitude of the latest signal.
	Relative bool
}

func (c Criterion) validate() error {
	if !(c.Tol > 0) || math.IsInf(c.Tol, 0) {
		return errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("tol %g", c.Tol))
	}
	if c.MaxSteps <= 0 {
		return errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("max steps %d", c.MaxSteps))
	}
	if c.Lag <= 0 {
		return errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("lag %d", c.Lag))
	}
	return nil
}

// ShouldStop inspects the signal history, one entry per step taken, and returns
// whether to continue. Convergence takes precedence over the step limit.
func (c Criterion) ShouldStop(history []float64) Status {
	n := len(history)
	if n > c.Lag {
		latest, past := history[n-1], history[n-1-c.Lag]
		change := math.Abs(latest - past)
		if c.Relative {
			change /= max(math.Abs(latest), math.SmallestNonzeroFloat64)
		}
		if change < c.Tol {
			return Converged
		}
	}
	if n >= c.MaxSteps {
		return MaxStepsReached
	}
	return Continue
}

// ShouldStop is Criterion.ShouldStop comparing consecutive steps by their absolute change.
func ShouldStop(history []float64, tol float64, maxSteps int) Status {
	return Criterion{Tol: tol, MaxSteps: maxSteps, Lag: 1}.ShouldStop(history)
}

// singularValueSignal returns the sum of sv divided by its largest element.
func singularValueSignal(sv []float64) float64 {
	var sum, top float64
	for _, v := range sv {
		sum += v
		top = max(top, v)
	}
	if top == 0 {
		return 0
	}
	return sum / top
}
