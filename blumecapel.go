// Package blumecapel defines the three state Blume-Capel model on the square lattice
//
//	H = -J Σ<ij> Si Sj - Δ Σi Si²,  Si ∈ {+1, 0, -1}
//
// and its representation as a tensor network suitable for corner transfer matrix
// renormalization.
//
// The network is built on the diagonal lattice: the square lattice is rotated by 45 degrees
// and checkerboarded, so that every bond belongs to exactly one shaded plaquette, and every
// spin is shared by exactly two of them. Each shaded plaquette carries a rank 4 site tensor
// whose legs are the four spins at its corners. Since each leg is shared by two tensors,
// the network has two spins per site tensor.
//
// References:
//   - Corner Transfer Matrix Renormalization Group Method, T. Nishino and K. Okunishi
//   - Statistical Mechanics (Chapter 13, the eight vertex model), R. J. Baxter
package blumecapel

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/blumecapel/dense"
)

const (
	// D is the size of the spin alphabet.
	D = 3

	// Axes of the site tensor, in cyclic order around its plaquette.
	LeftAxis  = 0
	UpAxis    = 1
	RightAxis = 2
	DownAxis  = 3

	// SpinsPerSite is the number of lattice spins per site tensor.
	SpinsPerSite = 2
)

var (
	// Spins maps a leg index to its spin value.
	Spins = [D]int{1, 0, -1}
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNumericalDivergence  = errors.New("numerical divergence")
	ErrDecompositionFailure = errors.New("decomposition failure")
)

// ModelPoint is one instance of the Hamiltonian.
type ModelPoint struct {
	temperature float64
	coupling    float64
	anisotropy  float64
}

// NewModelPoint returns the model at temperature t, with coupling j and single ion anisotropy delta.
func NewModelPoint(t, j, delta float64) (ModelPoint, error) {
	p := ModelPoint{temperature: t, coupling: j, anisotropy: delta}
	if err := p.Validate(); err != nil {
		return ModelPoint{}, errors.Wrap(err, "")
	}
	return p, nil
}

// MustModelPoint is like NewModelPoint but panics on error.
func MustModelPoint(t, j, delta float64) ModelPoint {
	p, err := NewModelPoint(t, j, delta)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return p
}

func (p ModelPoint) Temperature() float64 { return p.temperature }
func (p ModelPoint) Coupling() float64    { return p.coupling }
func (p ModelPoint) Anisotropy() float64  { return p.anisotropy }
func (p ModelPoint) Beta() float64        { return 1 / p.temperature }

// WithTemperature returns a copy of p at temperature t.
func (p ModelPoint) WithTemperature(t float64) (ModelPoint, error) {
	return NewModelPoint(t, p.coupling, p.anisotropy)
}

// WithCoupling returns a copy of p with coupling j.
func (p ModelPoint) WithCoupling(j float64) (ModelPoint, error) {
	return NewModelPoint(p.temperature, j, p.anisotropy)
}

// WithAnisotropy returns a copy of p with anisotropy delta.
func (p ModelPoint) WithAnisotropy(delta float64) (ModelPoint, error) {
	return NewModelPoint(p.temperature, p.coupling, delta)
}

// Validate checks that p describes a physical system.
func (p ModelPoint) Validate() error {
	for _, v := range []float64{p.temperature, p.coupling, p.anisotropy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrap(ErrInvalidParameter, p.String())
		}
	}
	if p.temperature <= 0 {
		return errors.Wrap(ErrInvalidParameter, fmt.Sprintf("temperature %g", p.temperature))
	}
	return nil
}

// LogWeightScale returns -min(H_plaquette)/T, the logarithm of the largest Boltzmann weight of
// a site tensor. The tensors returned by LocalWeight, SpinWeight and EnergyWeight are the
// Boltzmann weighted tensors divided by exp(LogWeightScale).
func (p ModelPoint) LogWeightScale() float64 {
	return -p.minEnergy() / p.temperature
}

func (p ModelPoint) minEnergy() float64 {
	lo := math.Inf(1)
	for _, s := range plaquettes() {
		lo = min(lo, p.energy(s))
	}
	return lo
}

func (p ModelPoint) String() string {
	return fmt.Sprintf("T=%g J=%g Δ=%g", p.temperature, p.coupling, p.anisotropy)
}

// PlaquetteEnergy returns the energy assigned to one site tensor whose corner spins are
// s[LeftAxis], s[UpAxis], s[RightAxis], s[DownAxis].
// The four bonds of the plaquette are counted in full, and every corner contributes half
// of its anisotropy term, since each spin belongs to two plaquettes.
func (p ModelPoint) PlaquetteEnergy(s [4]int) float64 {
	return p.energy(s)
}

func (p ModelPoint) energy(s [4]int) float64 {
	var bonds, squares int
	for i := range s {
		bonds += s[i] * s[(i+1)%len(s)]
		squares += s[i] * s[i]
	}
	return -p.coupling*float64(bonds) - p.anisotropy*float64(squares)/2
}

// LocalWeight returns the site tensor a[l, u, r, d] = exp(-(H_plaquette - min H_plaquette)/T).
// Its largest entry is 1, and weights too small to be represented are 0.
// The Boltzmann weights themselves are exp(p.LogWeightScale()) times the entries.
func LocalWeight(p ModelPoint) (*dense.Tensor, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	lo := p.minEnergy()
	a := dense.Zeros(D, D, D, D)
	for ijkl := range a.All() {
		s := spinsAt(ijkl)
		a.Set(math.Exp(-(p.energy(s)-lo)/p.temperature), ijkl...)
	}
	return a, nil
}

// SpinWeight returns the site tensor with the average of its four corner spins inserted.
// The ratio of networks with and without a single SpinWeight is the magnetization per spin.
func SpinWeight(p ModelPoint) (*dense.Tensor, error) {
	a, err := LocalWeight(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	b := a.Clone()
	for ijkl, v := range a.All() {
		var m int
		for _, s := range spinsAt(ijkl) {
			m += s
		}
		b.Set(v*float64(m)/4, ijkl...)
	}
	return b, nil
}

// EnergyWeight returns the site tensor with its plaquette energy inserted.
// Every bond belongs to exactly one plaquette, so the ratio of networks with and without a single
// EnergyWeight is the internal energy per site tensor.
func EnergyWeight(p ModelPoint) (*dense.Tensor, error) {
	a, err := LocalWeight(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	for ijkl, v := range a.All() {
		a.Set(v*p.energy(spinsAt(ijkl)), ijkl...)
	}
	return a, nil
}

func spinsAt(idx []int) [4]int {
	return [4]int{Spins[idx[LeftAxis]], Spins[idx[UpAxis]], Spins[idx[RightAxis]], Spins[idx[DownAxis]]}
}

func plaquettes() [][4]int {
	ps := make([][4]int, 0, D*D*D*D)
	for ijkl := range dense.Zeros(D, D, D, D).All() {
		ps = append(ps, spinsAt(ijkl))
	}
	return ps
}
