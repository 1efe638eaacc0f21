// Package dense implements real valued dense tensors stored in row-major order.
//
// Contractions follow the numpy tensordot convention: the free axes of the first
// operand come first, followed by the free axes of the second.
package dense

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense tensor of float64.
// A Tensor with an empty shape is a scalar.
type Tensor struct {
	shape []int
	data  []float64
}

// Zeros returns a tensor of the given shape filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{shape: slices.Clone(shape), data: make([]float64, size(shape))}
}

// New wraps data in a tensor of the given shape. data is not copied.
func New(data []float64, shape ...int) *Tensor {
	if len(data) != size(shape) {
		panic(fmt.Sprintf("%d %#v", len(data), shape))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}
}

// FromMatrix copies a gonum matrix into a rank 2 tensor.
func FromMatrix(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	t := Zeros(r, c)
	for i := range r {
		for j := range c {
			t.data[i*c+j] = m.At(i, j)
		}
	}
	return t
}

func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }
func (t *Tensor) Rank() int    { return len(t.shape) }
func (t *Tensor) Size() int    { return len(t.data) }

// Data returns the underlying storage.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

// All iterates over all indices in row-major order.
// The yielded index slice is reused between iterations.
func (t *Tensor) All() iter.Seq2[[]int, float64] {
	return func(yield func([]int, float64) bool) {
		idx := make([]int, len(t.shape))
		for _, v := range t.data {
			if !yield(idx, v) {
				return
			}
			increment(idx, t.shape)
		}
	}
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Reshape returns a tensor sharing t's data with a new shape.
// At most one dimension may be -1, in which case it is inferred.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer == -1:
			infer = i
		case d < 0:
			panic(fmt.Sprintf("%#v", shape))
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("%#v %#v", t.shape, shape))
		}
		shape[infer] = len(t.data) / known
	}
	if size(shape) != len(t.data) {
		panic(fmt.Sprintf("%#v %#v", t.shape, shape))
	}
	return &Tensor{shape: shape, data: t.data}
}

// Transpose returns a copy of t with its axes permuted,
// such that axis i of the result is axis axes[i] of t.
func (t *Tensor) Transpose(axes ...int) *Tensor {
	if len(axes) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", t.shape, axes))
	}
	seen := make([]bool, len(axes))
	for _, a := range axes {
		if a < 0 || a >= len(axes) || seen[a] {
			panic(fmt.Sprintf("%#v", axes))
		}
		seen[a] = true
	}

	srcStrides := strides(t.shape)
	shape := make([]int, len(axes))
	// stride[i] is the step in t.data when moving along axis i of the result.
	stride := make([]int, len(axes))
	for i, a := range axes {
		shape[i] = t.shape[a]
		stride[i] = srcStrides[a]
	}

	out := Zeros(shape...)
	if len(out.data) == 0 {
		return out
	}
	idx := make([]int, len(shape))
	src := 0
	for i := range out.data {
		out.data[i] = t.data[src]

		// Advance the multi-index and the source offset together.
		for ax := len(shape) - 1; ax >= 0; ax-- {
			idx[ax]++
			src += stride[ax]
			if idx[ax] < shape[ax] {
				break
			}
			src -= stride[ax] * shape[ax]
			idx[ax] = 0
		}
	}
	return out
}

// Scale multiplies t by c in place.
func (t *Tensor) Scale(c float64) *Tensor {
	for i := range t.data {
		t.data[i] *= c
	}
	return t
}

// MaxAbs returns the largest absolute value of t.
func (t *Tensor) MaxAbs() float64 {
	var m float64
	for _, v := range t.data {
		m = max(m, math.Abs(v))
	}
	return m
}

// IsFinite reports whether no entry is NaN or infinite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// EqualApprox reports whether t and u have the same shape and all entries
// are within tol of each other.
func (t *Tensor) EqualApprox(u *Tensor, tol float64) bool {
	if !slices.Equal(t.shape, u.shape) {
		return false
	}
	for i, v := range t.data {
		if math.Abs(v-u.data[i]) > tol {
			return false
		}
	}
	return true
}

// Matrix returns a gonum view of a rank 2 tensor. The view shares t's data.
func (t *Tensor) Matrix() *mat.Dense {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("%#v", t.shape))
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

// Scalar returns the only entry of a tensor of size one.
func (t *Tensor) Scalar() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("%#v", t.shape))
	}
	return t.data[0]
}

func (t *Tensor) String() string {
	shapeStrs := make([]string, 0, len(t.shape))
	for _, d := range t.shape {
		shapeStrs = append(shapeStrs, strconv.Itoa(d))
	}
	vals := make([]string, 0, len(t.data))
	for _, v := range t.data {
		vals = append(vals, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return fmt.Sprintf("[%s][%s]", strings.Join(shapeStrs, ","), strings.Join(vals, ","))
}

// Product contracts a and b over the axis pairs in axes.
// Each pair is {axis of a, axis of b}.
func Product(a, b *Tensor, axes [][2]int) *Tensor {
	contractedA := make([]int, 0, len(axes))
	contractedB := make([]int, 0, len(axes))
	k := 1
	for _, ab := range axes {
		if a.shape[ab[0]] != b.shape[ab[1]] {
			panic(fmt.Sprintf("%#v %#v %#v", a.shape, b.shape, axes))
		}
		contractedA = append(contractedA, ab[0])
		contractedB = append(contractedB, ab[1])
		k *= a.shape[ab[0]]
	}
	freeA := freeAxes(len(a.shape), contractedA)
	freeB := freeAxes(len(b.shape), contractedB)

	shape := make([]int, 0, len(freeA)+len(freeB))
	m, n := 1, 1
	for _, ax := range freeA {
		shape = append(shape, a.shape[ax])
		m *= a.shape[ax]
	}
	for _, ax := range freeB {
		shape = append(shape, b.shape[ax])
		n *= b.shape[ax]
	}
	if m == 0 || n == 0 || k == 0 {
		return Zeros(shape...)
	}

	at := a.permuted(append(slices.Clone(freeA), contractedA...))
	bt := b.permuted(append(slices.Clone(contractedB), freeB...))
	am := mat.NewDense(m, k, at.data)
	bm := mat.NewDense(k, n, bt.data)
	cm := mat.NewDense(m, n, nil)
	cm.Mul(am, bm)

	return New(cm.RawMatrix().Data, shape...)
}

// SymmetrizeFirstTwo returns (t + t') / 2, where t' is t with its first two
// axes exchanged. Only rank 2 and rank 3 tensors are supported.
func SymmetrizeFirstTwo(t *Tensor) *Tensor {
	var axes []int
	switch len(t.shape) {
	case 2:
		axes = []int{1, 0}
	case 3:
		axes = []int{1, 0, 2}
	default:
		panic(fmt.Sprintf("%#v", t.shape))
	}
	tt := t.Transpose(axes...)
	for i, v := range t.data {
		tt.data[i] = (tt.data[i] + v) / 2
	}
	return tt
}

// permuted is Transpose without the copy when axes is the identity.
func (t *Tensor) permuted(axes []int) *Tensor {
	for i, a := range axes {
		if i != a {
			return t.Transpose(axes...)
		}
	}
	return t
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", t.shape, idx))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("%#v %#v", t.shape, idx))
		}
		off = off*t.shape[i] + x
	}
	return off
}

func freeAxes(rank int, contracted []int) []int {
	free := make([]int, 0, rank)
	for ax := range rank {
		if !slices.Contains(contracted, ax) {
			free = append(free, ax)
		}
	}
	if len(free)+len(contracted) != rank {
		panic(fmt.Sprintf("%d %#v", rank, contracted))
	}
	return free
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func increment(idx, shape []int) {
	for ax := len(shape) - 1; ax >= 0; ax-- {
		idx[ax]++
		if idx[ax] < shape[ax] {
			return
		}
		idx[ax] = 0
	}
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("%#v", shape))
		}
		n *= d
	}
	return n
}
