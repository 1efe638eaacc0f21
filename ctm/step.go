package ctm

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/dense"
)

// Advance performs one renormalization step: it absorbs a row and a column of site tensors a
// into the environment of s, and truncates the enlarged bonds to at most chi dimensions.
// A fixed spin edge, if present, is enlarged and truncated with the same projector as the free edge.
// It returns the new state and the retained singular values of the enlarged corner in
// descending order.
func Advance(s *State, a *dense.Tensor, chi int) (*State, []float64, error) {
	if chi <= 0 {
		return nil, nil, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("chi %d", chi))
	}
	ul := s.envs[UpperLeft]
	if !ul.Corner.IsFinite() || !ul.Edge.IsFinite() {
		return nil, nil, errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("step %d", s.step))
	}
	// Dividing a by its largest entry keeps the enlarged tensors in range.
	aMax := a.MaxAbs()
	if !a.IsFinite() || aMax == 0 {
		return nil, nil, errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("site tensor max %g", aMax))
	}
	a = a.Clone().Scale(1 / aMax)

	m := enlargeCorner(ul.Corner, ul.Edge, a)
	if !m.IsFinite() {
		return nil, nil, errors.Wrap(blumecapel.ErrNumericalDivergence, fmt.Sprintf("enlarged corner step %d", s.step))
	}
	u, sv, err := truncate(m, chi)
	if err != nil {
		return nil, nil, errors.Wrap(err, fmt.Sprintf("step %d", s.step))
	}

	c := project(m, u)
	t := projectEdge(enlargeEdge(ul.Edge, a), u)

	next := &State{step: s.step + 1}
	// The true enlarged corner contains one corner, two edges and one site, the true
	// enlarged edge one edge and one site.
	next.logCorner = s.logCorner + 2*s.logEdge + math.Log(aMax)
	next.logEdge = s.logEdge + math.Log(aMax)
	next.cornerSites = s.cornerSites + 2*s.edgeSites + 1
	next.edgeSites = s.edgeSites + 1
	if err := next.setUpperLeft(c, t); err != nil {
		return nil, nil, errors.Wrap(err, fmt.Sprintf("step %d", s.step))
	}

	if s.fixedEdge != nil {
		tf := projectEdge(enlargeEdge(s.fixedEdge, a), u)
		next.logFixedEdge = s.logFixedEdge + math.Log(aMax)
		if err := next.setFixedEdge(tf); err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("step %d", s.step))
		}
	}
	return next, sv, nil
}

// enlargeCorner returns the corner enlarged by one site, reshaped to a matrix
//
//	M[(x', d), (y', r)] = Σ C[x, y] T[x, x', l] T[y, y', u] a[l, u, r, d]
//
// whose rows are the legs pointing counterclockwise, and columns the legs pointing clockwise.
func enlargeCorner(c, t, a *dense.Tensor) *dense.Tensor {
	chi, d := c.Shape()[cornerCCWAxis], a.Shape()[blumecapel.LeftAxis]

	// ct is of shape {y, x', l}.
	ct := dense.Product(c, t, [][2]int{{cornerCCWAxis, edgeFirstAxis}})
	// ctt is of shape {x', l, y', u}.
	ctt := dense.Product(ct, t, [][2]int{{0, edgeFirstAxis}})
	// ctta is of shape {x', y', r, d}.
	ctta := dense.Product(ctt, a, [][2]int{{1, blumecapel.LeftAxis}, {3, blumecapel.UpAxis}})

	return ctta.Transpose(0, 3, 1, 2).Reshape(chi*d, chi*d)
}

// enlargeEdge returns the edge enlarged by one site, reshaped to
//
//	E[(x, l), (x', r), d] = Σ T[x, x', u] a[l, u, r, d]
func enlargeEdge(t, a *dense.Tensor) *dense.Tensor {
	chi, d := t.Shape()[edgeFirstAxis], a.Shape()[blumecapel.LeftAxis]

	// ta is of shape {x, x', l, r, d}.
	ta := dense.Product(t, a, [][2]int{{edgeSpinAxis, blumecapel.UpAxis}})
	return ta.Transpose(0, 2, 1, 3, 4).Reshape(chi*d, chi*d, d)
}

// truncate decomposes the enlarged corner m = U S V^T and returns the columns of U belonging to
// the chi largest singular values, together with those singular values.
// Equal singular values keep the order in which the decomposition returned them.
// If m has fewer than chi rows, all of them are kept.
func truncate(m *dense.Tensor, chi int) (*dense.Tensor, []float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m.Matrix(), mat.SVDThinU); !ok {
		return nil, nil, errors.Wrap(blumecapel.ErrDecompositionFailure, fmt.Sprintf("%#v", m.Shape()))
	}
	values := svd.Values(nil)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.Wrap(blumecapel.ErrDecompositionFailure, fmt.Sprintf("%v", values))
		}
	}
	if values[0] == 0 {
		return nil, nil, errors.Wrap(blumecapel.ErrDecompositionFailure, "zero matrix")
	}

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(i, j int) int { return cmp.Compare(values[j], values[i]) })

	k := min(chi, len(values))
	var uFull mat.Dense
	svd.UTo(&uFull)
	rows, _ := uFull.Dims()
	u := dense.Zeros(rows, k)
	sv := make([]float64, k)
	for j, col := range order[:k] {
		sv[j] = values[col]
		for i := range rows {
			u.Set(uFull.At(i, col), i, j)
		}
	}
	return u, sv, nil
}

// project returns U^T m U.
func project(m, u *dense.Tensor) *dense.Tensor {
	um := dense.Product(u, m, [][2]int{{0, 0}})
	return dense.Product(um, u, [][2]int{{1, 0}})
}

// projectEdge returns T'[α, β, d] = Σ U[i, α] E[i, j, d] U[j, β].
func projectEdge(e, u *dense.Tensor) *dense.Tensor {
	// ue is of shape {α, j, d}.
	ue := dense.Product(u, e, [][2]int{{0, 0}})
	// ueu is of shape {α, d, β}.
	ueu := dense.Product(ue, u, [][2]int{{1, 0}})
	return ueu.Transpose(0, 2, 1)
}
