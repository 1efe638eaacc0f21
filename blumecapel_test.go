package blumecapel

import (
	"flag"
	"fmt"
	"log"
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestLocalWeight(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p ModelPoint
	}{
		{p: MustModelPoint(1, 1, 0)},
		{p: MustModelPoint(0.607, 1, -1.9)},
		{p: MustModelPoint(2, -1, 3)},
		{p: MustModelPoint(0.1, 1, 1)},
		{p: MustModelPoint(100, 0, 0)},
	}
	for _, test := range tests {
		t.Run(test.p.String(), func(t *testing.T) {
			t.Parallel()
			a, err := LocalWeight(test.p)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for ijkl, v := range a.All() {
				if !(v > 0) || math.IsInf(v, 0) {
					t.Fatalf("%v %f", ijkl, v)
				}
			}
			if m := a.MaxAbs(); m != 1 {
				t.Fatalf("%f", m)
			}

			// Symmetry of the square: rotation and reflection of the plaquette.
			for ijkl, v := range a.All() {
				l, u, r, d := ijkl[LeftAxis], ijkl[UpAxis], ijkl[RightAxis], ijkl[DownAxis]
				if rot := a.At(d, l, u, r); rot != v {
					t.Fatalf("%v %f %f", ijkl, v, rot)
				}
				if refl := a.At(u, l, d, r); refl != v {
					t.Fatalf("%v %f %f", ijkl, v, refl)
				}
			}
		})
	}
}

func TestLocalWeightValue(t *testing.T) {
	t.Parallel()
	p := MustModelPoint(2, 1, 0.5)
	a, err := LocalWeight(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// All up: four satisfied bonds, and four half anisotropy terms, the lowest energy.
	if scale, expected := p.LogWeightScale(), (4+0.5*4/2)/2.; math.Abs(scale-expected) > 1e-15 {
		t.Fatalf("%f %f", scale, expected)
	}
	up := spinIndex(1)
	if v := a.At(up, up, up, up); v != 1 {
		t.Fatalf("%f", v)
	}
	// Alternating up and down.
	dn := spinIndex(-1)
	if v, expected := a.At(up, dn, up, dn), math.Exp((-4+0.5*4/2)/2-p.LogWeightScale()); math.Abs(v-expected) > 1e-12 {
		t.Fatalf("%f %f", v, expected)
	}
	// All vacant.
	zero := spinIndex(0)
	if v, expected := a.At(zero, zero, zero, zero), math.Exp(-p.LogWeightScale()); math.Abs(v-expected) > 1e-15 {
		t.Fatalf("%f %f", v, expected)
	}
}

// TestLocalWeightExtreme checks that points whose Boltzmann weights exceed the range of float64
// still give a representable site tensor.
func TestLocalWeightExtreme(t *testing.T) {
	t.Parallel()
	tests := []struct {
		t     float64
		j     float64
		delta float64
		scale float64
	}{
		{t: 1, j: 1, delta: 400, scale: 804},
		{t: 0.005, j: 1, delta: 0, scale: 800},
		{t: 0.1, j: 1, delta: 40, scale: 840},
		{t: 1e-3, j: 0, delta: -10, scale: 0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%f %f %f", test.t, test.j, test.delta), func(t *testing.T) {
			t.Parallel()
			p, err := NewModelPoint(test.t, test.j, test.delta)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if scale := p.LogWeightScale(); math.Abs(scale-test.scale) > 1e-9*test.scale {
				t.Fatalf("%f %f", scale, test.scale)
			}
			a, err := LocalWeight(p)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !a.IsFinite() || a.MaxAbs() != 1 {
				t.Fatalf("%s", a)
			}
			for ijkl, v := range a.All() {
				if v < 0 {
					t.Fatalf("%v %f", ijkl, v)
				}
			}
		})
	}
}

// TestLocalWeightFactorizes checks that without coupling every spin is independent,
// and the sum of the site tensor is the partition function of two free spins.
func TestLocalWeightFactorizes(t *testing.T) {
	t.Parallel()
	temp, delta := 1.5, 0.7
	p := MustModelPoint(temp, 0, delta)
	a, err := LocalWeight(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var sum float64
	for _, v := range a.All() {
		sum += v
	}
	single := 1 + 2*math.Exp(delta/(2*temp))
	if expected := math.Pow(single, 4) * math.Exp(-4*delta/(2*temp)); math.Abs(sum-expected)/expected > 1e-12 {
		t.Fatalf("%f %f", sum, expected)
	}
}

func TestSpinWeight(t *testing.T) {
	t.Parallel()
	p := MustModelPoint(1.2, 1, 0)
	a, err := LocalWeight(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := SpinWeight(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	up, zero, dn := spinIndex(1), spinIndex(0), spinIndex(-1)
	if v := b.At(up, up, up, up); v != a.At(up, up, up, up) {
		t.Fatalf("%f", v)
	}
	if v := b.At(up, zero, dn, zero); v != 0 {
		t.Fatalf("%f", v)
	}
	if v, expected := b.At(dn, up, dn, zero), -a.At(dn, up, dn, zero)/4; math.Abs(v-expected) > 1e-15 {
		t.Fatalf("%f %f", v, expected)
	}
}

func TestEnergyWeight(t *testing.T) {
	t.Parallel()
	p := MustModelPoint(1.2, 1, 0.3)
	a, err := LocalWeight(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	e, err := EnergyWeight(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for ijkl, v := range e.All() {
		expected := a.At(ijkl...) * p.PlaquetteEnergy(spinsAt(ijkl))
		if math.Abs(v-expected) > 1e-12 {
			t.Fatalf("%v %f %f", ijkl, v, expected)
		}
	}
}

func TestInvalidParameter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		t     float64
		j     float64
		delta float64
	}{
		{t: 0, j: 1, delta: 0},
		{t: -1, j: 1, delta: 0},
		{t: math.NaN(), j: 1, delta: 0},
		{t: 1, j: math.Inf(1), delta: 0},
		{t: 1, j: 1, delta: math.NaN()},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%f %f %f", test.t, test.j, test.delta), func(t *testing.T) {
			t.Parallel()
			_, err := NewModelPoint(test.t, test.j, test.delta)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("%+v", err)
			}
			_, err = LocalWeight(ModelPoint{temperature: test.t, coupling: test.j, anisotropy: test.delta})
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestWith(t *testing.T) {
	t.Parallel()
	p := MustModelPoint(1, 1, 0)
	q, err := p.WithAnisotropy(-1.5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if q.Anisotropy() != -1.5 || p.Anisotropy() != 0 || q.Temperature() != 1 || q.Coupling() != 1 {
		t.Fatalf("%v %v", p, q)
	}
	if _, err := p.WithTemperature(0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("%+v", err)
	}
}

func spinIndex(spin int) int {
	for i, s := range Spins {
		if s == spin {
			return i
		}
	}
	panic(fmt.Sprintf("%d", spin))
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
