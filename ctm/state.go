// Package ctm implements the corner transfer matrix renormalization group (CTMRG)
// for the Blume-Capel site tensor.
//
// The environment of the infinite lattice is represented by four corners and four edges,
// one pair per quadrant. The site tensor is symmetric under the dihedral group of the square,
// so only the upper left pair is renormalized, and the other three are obtained from it by
// an explicit symmetry step.
//
// Leg conventions:
//   - Corner C[x, y]: x is the bond leading to the next quadrant counterclockwise, y to the next clockwise.
//   - Edge T[x, x', s]: x and x' are the bonds towards the two neighbouring corners, s is the spin leg
//     pointing into the lattice.
//
// References:
//   - Corner Transfer Matrix Renormalization Group Method, T. Nishino and K. Okunishi, J. Phys. Soc. Jpn. 65, 891 (1996)
//   - Simulation of two-dimensional quantum systems on an infinite lattice revisited, R. Orus and G. Vidal, Phys. Rev. B 80, 094403 (2009)
package ctm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/dense"
)

const (
	// Corner axes.
	cornerCCWAxis = 0
	cornerCWAxis  = 1
	// Edge axes.
	edgeFirstAxis  = 0
	edgeSecondAxis = 1
	edgeSpinAxis   = 2
)

// Quadrant identifies one of the four corners of the lattice.
type Quadrant int

const (
	UpperLeft Quadrant = iota
	UpperRight
	LowerRight
	LowerLeft
	numQuadrants
)

func (q Quadrant) String() string {
	switch q {
	case UpperLeft:
		return "upper left"
	case UpperRight:
		return "upper right"
	case LowerRight:
		return "lower right"
	case LowerLeft:
		return "lower left"
	default:
		return fmt.Sprintf("Quadrant(%d)", int(q))
	}
}

// Environment is the renormalized environment of one quadrant: its corner and the edge that
// follows it clockwise.
type Environment struct {
	Corner *dense.Tensor
	Edge   *dense.Tensor
}

// State is the renormalized environment of the infinite lattice.
// A State is never modified once created, so it may be shared between goroutines and
// handed over to the next point of a sweep.
type State struct {
	envs [numQuadrants]Environment
	// fixedEdge is the upper edge grown from a boundary whose spins are fixed to +1.
	// It is renormalized with the projectors of the free edge, and is nil unless requested.
	fixedEdge *dense.Tensor

	// step is the number of renormalization steps that produced this state.
	step int
	// logCorner, logEdge and logFixedEdge accumulate the logarithms of the factors divided out of
	// the corner and edges.
	logCorner    float64
	logEdge      float64
	logFixedEdge float64
	// cornerSites and edgeSites count the site tensors contracted into the corner and edge.
	cornerSites float64
	edgeSites   float64
}

// Seed selects the initial environment.
type Seed int

const (
	// SeedUp fixes the spins on the boundary to +1.
	SeedUp Seed = iota
	// SeedDown fixes the spins on the boundary to -1.
	SeedDown
	// SeedFree leaves the spins on the boundary free.
	SeedFree
	// SeedRandom starts from symmetric random tensors of full bond dimension.
	SeedRandom
)

func (s Seed) String() string {
	switch s {
	case SeedUp:
		return "up"
	case SeedDown:
		return "down"
	case SeedFree:
		return "free"
	case SeedRandom:
		return "random"
	default:
		return fmt.Sprintf("Seed(%d)", int(s))
	}
}

// ParseSeed parses the output of Seed.String.
func ParseSeed(s string) (Seed, error) {
	for _, seed := range []Seed{SeedUp, SeedDown, SeedFree, SeedRandom} {
		if seed.String() == s {
			return seed, nil
		}
	}
	return -1, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("seed %q", s))
}

// NewState returns the initial environment built from the site tensor a.
// The boundary seeds are a single row of sites, and have bond dimension D.
// The random seed has bond dimension chi.
func NewState(a *dense.Tensor, seed Seed, chi int) (*State, error) {
	var c, t *dense.Tensor
	switch seed {
	case SeedUp, SeedDown:
		fixed := spinIndex(1)
		if seed == SeedDown {
			fixed = spinIndex(-1)
		}
		c, t = fixedBoundary(a, fixed)
	case SeedFree:
		c, t = freeBoundary(a)
	case SeedRandom:
		if chi <= 0 {
			return nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("chi %d", chi))
		}
		c = randTensor(chi, chi)
		t = randTensor(chi, chi, blumecapel.D)
	default:
		return nil, errors.Wrap(blumecapel.ErrInvalidParameter, seed.String())
	}

	s := &State{}
	if seed != SeedRandom {
		s.cornerSites, s.edgeSites = 1, 1
	}
	if err := s.setUpperLeft(c, t); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

// Environment returns the corner and edge of quadrant q.
func (s *State) Environment(q Quadrant) Environment {
	return s.envs[q]
}

// Step returns the number of renormalization steps taken since the state was seeded.
func (s *State) Step() int { return s.step }

// Dim returns the current bond dimension.
func (s *State) Dim() int {
	return s.envs[UpperLeft].Corner.Shape()[cornerCCWAxis]
}

// LogScale returns the accumulated logarithms of the normalization factors of the corner and edge.
// A corner of the finite cluster grown so far is exp(logCorner) times Environment(q).Corner.
func (s *State) LogScale() (logCorner, logEdge float64) {
	return s.logCorner, s.logEdge
}

// HasFixedEdge reports whether s carries a fixed spin edge.
func (s *State) HasFixedEdge() bool { return s.fixedEdge != nil }

// FixedEdge returns the fixed spin edge, or nil if s carries none.
func (s *State) FixedEdge() *dense.Tensor { return s.fixedEdge }

// WithFixedEdge returns a copy of s that also carries an upper edge whose boundary spins are
// fixed to +1, grown from a single row of the site tensor a.
// s must be freshly seeded from a boundary, so that the fixed edge and the free edge hold the same sites.
func (s *State) WithFixedEdge(a *dense.Tensor) (*State, error) {
	if s.step != 0 || s.edgeSites != 1 {
		return nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("fixed edge on step %d sites %g", s.step, s.edgeSites))
	}
	_, t := fixedBoundary(a, spinIndex(1))
	if edge := s.envs[UpperLeft].Edge; !slices.Equal(t.Shape(), edge.Shape()) {
		return nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("fixed edge %v %v", t.Shape(), edge.Shape()))
	}

	next := *s
	next.logFixedEdge = 0
	if err := next.setFixedEdge(t); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &next, nil
}

// WarmStart returns a copy of s to seed a run at a neighbouring model point.
// The tensors are shared, the step count and the normalization history are reset.
func (s *State) WarmStart() *State {
	return &State{envs: s.envs, fixedEdge: s.fixedEdge}
}

// setUpperLeft normalizes c and t, imposes the lattice symmetry on them, and replicates
// them to all quadrants.
func (s *State) setUpperLeft(c, t *dense.Tensor) error {
	cMax, tMax := c.MaxAbs(), t.MaxAbs()
	if !c.IsFinite() || !t.IsFinite() || cMax == 0 || tMax == 0 {
		return errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("%g %g", cMax, tMax))
	}
	c = dense.SymmetrizeFirstTwo(c.Clone().Scale(1 / cMax))
	t = dense.SymmetrizeFirstTwo(t.Clone().Scale(1 / tMax))
	s.logCorner += math.Log(cMax)
	s.logEdge += math.Log(tMax)

	s.replicate(Environment{Corner: c, Edge: t})
	return nil
}

// setFixedEdge normalizes and symmetrizes t the same way setUpperLeft treats the free edge.
func (s *State) setFixedEdge(t *dense.Tensor) error {
	tMax := t.MaxAbs()
	if !t.IsFinite() || tMax == 0 {
		return errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("fixed edge %g", tMax))
	}
	s.fixedEdge = dense.SymmetrizeFirstTwo(t.Clone().Scale(1 / tMax))
	s.logFixedEdge += math.Log(tMax)
	return nil
}

// replicate applies the symmetry of the square to the upper left environment.
// Reflection about the diagonal leaves a symmetric corner and edge invariant, and rotations
// map the upper left quadrant onto the others with the same leg order, so every quadrant
// holds the same tensors.
func (s *State) replicate(ul Environment) {
	for q := range numQuadrants {
		s.envs[q] = ul
	}
}

// fixedBoundary returns the environment of a lattice whose outer spins are fixed to Spins[fixed].
func fixedBoundary(a *dense.Tensor, fixed int) (c, t *dense.Tensor) {
	d := blumecapel.D
	c = dense.Zeros(d, d)
	t = dense.Zeros(d, d, d)
	for i := range d {
		for j := range d {
			// The corner site has its left and up legs on the boundary.
			c.Set(a.At(fixed, fixed, j, i), i, j)
			for k := range d {
				// The edge site has its up leg on the boundary.
				t.Set(a.At(i, fixed, j, k), i, j, k)
			}
		}
	}
	return c, t
}

// freeBoundary returns the environment of a lattice with free boundary spins.
func freeBoundary(a *dense.Tensor) (c, t *dense.Tensor) {
	d := blumecapel.D
	c = dense.Zeros(d, d)
	t = dense.Zeros(d, d, d)
	for ijkl, v := range a.All() {
		l, r, dn := ijkl[blumecapel.LeftAxis], ijkl[blumecapel.RightAxis], ijkl[blumecapel.DownAxis]
		c.Set(c.At(dn, r)+v, dn, r)
		t.Set(t.At(l, r, dn)+v, l, r, dn)
	}
	return c, t
}

func spinIndex(spin int) int {
	for i, s := range blumecapel.Spins {
		if s == spin {
			return i
		}
	}
	panic(fmt.Sprintf("%d", spin))
}

func randTensor(shape ...int) *dense.Tensor {
	t := dense.Zeros(shape...)
	for ijk := range t.All() {
		t.Set(rand.Float64(), ijk...)
	}
	return t
}
