package ctm

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/dense"
)

// Observables are the thermodynamic quantities per spin of the infinite lattice.
type Observables struct {
	// Magnetization is the expectation of a single spin, in [-1, 1].
	Magnetization float64
	// FreeEnergy is the free energy per spin.
	FreeEnergy float64
	// Energy is the internal energy per spin.
	Energy float64
	// LogPartition is the logarithm of the partition function of the finite cluster grown
	// since the state was seeded, including all normalization factors divided out on the way.
	LogPartition float64

	// FixedMagnetization is the magnetization when the upper edge is replaced by the fixed spin edge.
	// It is zero unless the state carries a fixed spin edge.
	FixedMagnetization float64
	// LogFixedRatio is ln(Z_fixed/Z), where Z_fixed is the partition function with the upper edge
	// replaced by the fixed spin edge. It is zero unless the state carries a fixed spin edge.
	LogFixedRatio float64
}

// Extract computes the observables of the model p in the environment s.
// It does not modify s, and calling it twice with the same arguments gives identical results.
//
// The magnetization is the ratio of two closed networks of four corners, four edges and one site,
// with and without the spin inserted at the site.
// The free energy per site tensor is -T ln κ, where κ is the partition function per site
//
//	κ = Z(C⁴T⁴a) Z(C⁴) / Z(C⁴T²)²
//
// The normalization of the corner and edge cancels in κ.
func Extract(s *State, p blumecapel.ModelPoint) (Observables, error) {
	a, err := blumecapel.LocalWeight(p)
	if err != nil {
		return Observables{}, errors.Wrap(err, "")
	}
	b, err := blumecapel.SpinWeight(p)
	if err != nil {
		return Observables{}, errors.Wrap(err, "")
	}
	e, err := blumecapel.EnergyWeight(p)
	if err != nil {
		return Observables{}, errors.Wrap(err, "")
	}
	aMax := a.MaxAbs()
	for _, w := range []*dense.Tensor{a, b, e} {
		w.Scale(1 / aMax)
	}
	// The Boltzmann weights are exp(logWeight) times the entries of a.
	logWeight := p.LogWeightScale() + math.Log(aMax)

	top, bottom := s.closedRow(UpperLeft, UpperRight, s.envs[UpperLeft].Edge), s.closedRow(LowerLeft, LowerRight, s.envs[LowerLeft].Edge)
	z := s.closeSite(top, bottom, a)
	zCorners := s.closeCorners()
	zEdges := dense.Product(top, bottom, [][2]int{{0, 0}, {1, 1}, {2, 2}}).Scalar()
	for _, v := range []float64{z, zCorners, zEdges} {
		if !(v > 0) || math.IsInf(v, 0) {
			return Observables{}, errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("closure %g %g %g", z, zCorners, zEdges))
		}
	}

	var obs Observables
	obs.Magnetization = s.closeSite(top, bottom, b) / z
	obs.Energy = s.closeSite(top, bottom, e) / z / blumecapel.SpinsPerSite

	logKappa := math.Log(z) + logWeight + math.Log(zCorners) - 2*math.Log(zEdges)
	obs.FreeEnergy = -p.Temperature() * logKappa / blumecapel.SpinsPerSite

	logCorner := s.logCorner + s.cornerSites*logWeight
	logEdge := s.logEdge + s.edgeSites*logWeight
	obs.LogPartition = float64(numQuadrants)*(logCorner+logEdge) + math.Log(z) + logWeight

	if s.fixedEdge != nil {
		topFixed := s.closedRow(UpperLeft, UpperRight, s.fixedEdge)
		zFixed := s.closeSite(topFixed, bottom, a)
		if !(zFixed > 0) || math.IsInf(zFixed, 0) {
			return Observables{}, errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("fixed closure %g", zFixed))
		}
		obs.FixedMagnetization = s.closeSite(topFixed, bottom, b) / zFixed
		obs.LogFixedRatio = math.Log(zFixed) - math.Log(z) + s.logFixedEdge - s.logEdge
	}
	return obs, nil
}

// closedRow contracts the corner of quadrant left, the edge t following it, and the corner of
// quadrant right into a tensor of shape {x, s, x'}, where x and x' are the open corner bonds and
// s the spin leg of t.
func (s *State) closedRow(left, right Quadrant, t *dense.Tensor) *dense.Tensor {
	cl, cr := s.envs[left].Corner, s.envs[right].Corner
	// ct is of shape {x, y', s}.
	ct := dense.Product(cl, t, [][2]int{{cornerCWAxis, edgeFirstAxis}})
	return dense.Product(ct, cr, [][2]int{{1, cornerCCWAxis}})
}

// closeSite contracts the closed top and bottom rows with the left and right edges around w.
func (s *State) closeSite(top, bottom, w *dense.Tensor) float64 {
	left, right := s.envs[LowerLeft].Edge, s.envs[UpperRight].Edge
	// tl is of shape {su, x2, x3, sl}.
	tl := dense.Product(top, left, [][2]int{{0, edgeFirstAxis}})
	// tla is of shape {x2, x3, r, d}.
	tla := dense.Product(tl, w, [][2]int{{3, blumecapel.LeftAxis}, {0, blumecapel.UpAxis}})
	// tlar is of shape {x3, d, x4}.
	tlar := dense.Product(tla, right, [][2]int{{0, edgeFirstAxis}, {2, edgeSpinAxis}})
	return dense.Product(tlar, bottom, [][2]int{{0, 0}, {1, 1}, {2, 2}}).Scalar()
}

// closeCorners returns the trace of the product of the four corners.
func (s *State) closeCorners() float64 {
	upper := dense.Product(s.envs[UpperLeft].Corner, s.envs[UpperRight].Corner, [][2]int{{cornerCWAxis, cornerCCWAxis}})
	lower := dense.Product(s.envs[LowerRight].Corner, s.envs[LowerLeft].Corner, [][2]int{{cornerCWAxis, cornerCCWAxis}})
	return dense.Product(upper, lower, [][2]int{{1, 0}, {0, 1}}).Scalar()
}

// CorrelationLength returns the correlation length in units of the diagonal lattice spacing,
// from the two largest eigenvalues of the transfer matrix formed by two edges
//
//	M[(a, c), (b, d)] = Σ T[a, b, s] T[c, d, s]
//
// It returns +Inf when the largest eigenvalue is degenerate.
func CorrelationLength(s *State) (float64, error) {
	t := s.envs[UpperLeft].Edge
	chi := t.Shape()[edgeFirstAxis]
	if chi < 2 {
		return 0, nil
	}
	// tt is of shape {a, b, c, d}.
	tt := dense.Product(t, t, [][2]int{{edgeSpinAxis, edgeSpinAxis}})
	m := tt.Transpose(0, 2, 1, 3).Reshape(chi*chi, chi*chi)
	n := chi * chi
	sym := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return 0, errors.Wrap(blumecapel.ErrDecompositionFailure, fmt.Sprintf("transfer matrix %d", n))
	}
	values := eig.Values(nil)
	abs := make([]float64, len(values))
	for i, v := range values {
		abs[i] = math.Abs(v)
	}
	var l0, l1 float64
	for _, v := range abs {
		switch {
		case v > l0:
			l0, l1 = v, l0
		case v > l1:
			l1 = v
		}
	}
	if l1 == 0 {
		return 0, nil
	}
	if l0 == l1 {
		return math.Inf(1), nil
	}
	return 1 / math.Log(l0/l1), nil
}
