package ctm

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/fumin/blumecapel"
)

func TestRunSeedFlip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p blumecapel.ModelPoint
	}{
		{p: blumecapel.MustModelPoint(1, 1, 0)},
		{p: blumecapel.MustModelPoint(1.2, 1, -0.8)},
		{p: blumecapel.MustModelPoint(0.607, 1, -1.8)},
	}
	for _, test := range tests {
		t.Run(test.p.String(), func(t *testing.T) {
			t.Parallel()
			opt := NewOptions().Chi(8).Tol(1e-11)
			up, err := Run(context.Background(), test.p, nil, opt.Seed(SeedUp))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			down, err := Run(context.Background(), test.p, nil, opt.Seed(SeedDown))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !up.Converged || !down.Converged {
				t.Fatalf("%d %d", up.Steps, down.Steps)
			}
			if !(up.Magnetization > 0.5) {
				t.Fatalf("%f", up.Magnetization)
			}
			if math.Abs(up.Magnetization+down.Magnetization) > 1e-8 {
				t.Fatalf("%.12f %.12f", up.Magnetization, down.Magnetization)
			}
			if math.Abs(up.FreeEnergy-down.FreeEnergy) > 1e-9 {
				t.Fatalf("%.12f %.12f", up.FreeEnergy, down.FreeEnergy)
			}
		})
	}
}

// TestRunChiSensitivity checks that the observables approach a limit as the bond dimension grows.
func TestRunChiSensitivity(t *testing.T) {
	t.Parallel()
	p := blumecapel.MustModelPoint(1.5, 1, 0)
	var ms, fs []float64
	for _, chi := range []int{2, 4, 8, 12} {
		res, err := Run(context.Background(), p, nil, NewOptions().Chi(chi).Tol(1e-11))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if !res.Converged {
			t.Fatalf("%d %d", chi, res.Steps)
		}
		for _, s := range res.Signals {
			if s < 0 {
				t.Fatalf("%v", res.Signals)
			}
		}
		if res.State.Dim() > chi {
			t.Fatalf("%d %d", chi, res.State.Dim())
		}
		ms = append(ms, res.Magnetization)
		fs = append(fs, res.FreeEnergy)
	}

	for i := 2; i < len(ms); i++ {
		if !(math.Abs(ms[i]-ms[i-1]) < math.Abs(ms[i-1]-ms[i-2])) {
			t.Fatalf("%v", ms)
		}
		if !(math.Abs(fs[i]-fs[i-1]) < math.Abs(fs[i-1]-fs[i-2])) {
			t.Fatalf("%v", fs)
		}
	}
	if m := ms[len(ms)-1]; math.Abs(m-0.8582324778643) > 1e-8 {
		t.Fatalf("%.12f", m)
	}
}

func TestRunMagnetizationSignal(t *testing.T) {
	t.Parallel()
	p := blumecapel.MustModelPoint(1, 1, 0)
	opt := NewOptions().Chi(8).Signal(SignalMagnetization).Tol(1e-12)
	res, err := Run(context.Background(), p, nil, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !res.Converged {
		t.Fatalf("%d", res.Steps)
	}
	if last := res.Signals[len(res.Signals)-1]; math.Abs(last-math.Abs(res.Magnetization)) > 1e-12 {
		t.Fatalf("%.14f %.14f", last, res.Magnetization)
	}
	if math.Abs(res.Magnetization-0.97801626707) > 1e-6 {
		t.Fatalf("%.12f", res.Magnetization)
	}
}

func TestRunMaxStepsReached(t *testing.T) {
	t.Parallel()
	p := blumecapel.MustModelPoint(1.6, 1, 0)
	res, err := Run(context.Background(), p, nil, NewOptions().Chi(8).Tol(1e-15).MaxSteps(3))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if res.Converged || res.Steps != 3 || len(res.Signals) != 3 || res.State.Step() != 3 {
		t.Fatalf("%v %d %d %d", res.Converged, res.Steps, len(res.Signals), res.State.Step())
	}
	if math.IsNaN(res.Magnetization) || math.IsNaN(res.FreeEnergy) {
		t.Fatalf("%+v", res.Observables)
	}
}

func TestRunWarmStart(t *testing.T) {
	t.Parallel()
	opt := NewOptions().Chi(10)
	p := blumecapel.MustModelPoint(1.4, 1, 0)
	prev, err := Run(context.Background(), p, nil, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	prevStep := prev.State.Step()

	q, err := p.WithTemperature(1.42)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cold, err := Run(context.Background(), q, nil, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	warm, err := Run(context.Background(), q, prev.State, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !warm.Converged || !(warm.Steps < cold.Steps) {
		t.Fatalf("%d %d", warm.Steps, cold.Steps)
	}
	if math.Abs(warm.Magnetization-cold.Magnetization) > 1e-6 {
		t.Fatalf("%.12f %.12f", warm.Magnetization, cold.Magnetization)
	}
	if math.Abs(warm.FreeEnergy-cold.FreeEnergy) > 1e-8 {
		t.Fatalf("%.12f %.12f", warm.FreeEnergy, cold.FreeEnergy)
	}
	if prev.State.Step() != prevStep {
		t.Fatalf("seed modified")
	}
}

// TestRunScenario follows a chain of warm started points at low temperature, each of which must
// converge tightly within the step limit.
func TestRunScenario(t *testing.T) {
	t.Parallel()
	opt := NewOptions().Chi(24).Tol(1e-9).MaxSteps(5000)
	var seed *State
	for _, delta := range []float64{0, -0.6, -1.2, -1.8} {
		p := blumecapel.MustModelPoint(0.607, 1, delta)
		res, err := Run(context.Background(), p, seed, opt)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if !res.Converged || res.Steps > 5000 {
			t.Fatalf("%v %d", p, res.Steps)
		}
		if res.Magnetization < 0.9 || res.Magnetization > 1 {
			t.Fatalf("%v %f", p, res.Magnetization)
		}
		seed = res.State
	}
}

func TestRunCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := blumecapel.MustModelPoint(1, 1, 0)
	res, err := Run(ctx, p, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("%+v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Step != 0 || runErr.Point != p {
		t.Fatalf("%+v", err)
	}
	if res.State == nil || res.State.Step() != 0 || res.Steps != 0 {
		t.Fatalf("%+v", res)
	}
}

func TestRunInvalid(t *testing.T) {
	t.Parallel()
	p := blumecapel.MustModelPoint(1, 1, 0)
	tests := []struct {
		p   blumecapel.ModelPoint
		opt Options
	}{
		{p: p, opt: NewOptions().Chi(0)},
		{p: p, opt: NewOptions().Chi(-3)},
		{p: p, opt: NewOptions().Tol(0)},
		{p: p, opt: NewOptions().Tol(-1e-9)},
		{p: p, opt: NewOptions().Tol(math.NaN())},
		{p: p, opt: NewOptions().MaxSteps(0)},
		{p: p, opt: NewOptions().Lag(0)},
		{p: p, opt: NewOptions().Signal(Signal(9))},
		{p: p, opt: NewOptions().Seed(Seed(9))},
		{p: blumecapel.ModelPoint{}, opt: NewOptions()},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			res, err := Run(context.Background(), test.p, nil, test.opt)
			if !errors.Is(err, blumecapel.ErrInvalidParameter) {
				t.Fatalf("%+v", err)
			}
			if res.Steps != 0 || res.State != nil {
				t.Fatalf("%+v", res)
			}
		})
	}
}
