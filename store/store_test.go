package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"log"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/ctm"
	"github.com/fumin/blumecapel/sweep"
)

func TestStoreSweep(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	s, err := Open(filepath.Join(dir, "sweep.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()

	ctx := context.Background()
	g := sweep.Grid{Base: blumecapel.MustModelPoint(1, 1, 0), Param: sweep.ParamTemperature, Values: []float64{1, 1.2}}
	run, err := s.NewRun(ctx, g, "chi: 6\n")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	opt := sweep.NewOptions().Solver(ctm.NewOptions().Chi(6).FixedEdge(true)).UsePrev(true).Bidirectional(true).CorrelationLength(true)
	records, err := sweep.Run(ctx, g, s.Sink(run.ID), opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	saved, err := s.Records(ctx, run.ID)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(saved) != len(records) || len(saved) != 4 {
		t.Fatalf("%d %d", len(saved), len(records))
	}
	for i := range saved {
		a, b := saved[i], records[i]
		if a.Direction != b.Direction || a.Index != b.Index || a.Point != b.Point {
			t.Fatalf("%d %+v %+v", i, a, b)
		}
		if a.Observables != b.Observables || a.CorrelationLength != b.CorrelationLength || a.Converged != b.Converged || a.Steps != b.Steps || a.WarmStarted != b.WarmStarted {
			t.Fatalf("%d %+v %+v", i, a, b)
		}
		if a.Duration != b.Duration || a.Err != nil {
			t.Fatalf("%d %+v %+v", i, a, b)
		}
		if a.FixedMagnetization == 0 {
			t.Fatalf("%d %+v", i, a)
		}
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("%+v", runs)
	}
	if r := runs[0]; r.ID != run.ID || r.Param != g.Param || r.Base != g.Base || r.Config != run.Config || !r.Created.Equal(run.Created) {
		t.Fatalf("%+v %+v", r, run)
	}
	if other, err := s.Records(ctx, "unknown"); err != nil || len(other) != 0 {
		t.Fatalf("%+v %+v", other, err)
	}
}

func TestStoreFailedRecord(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "sweep.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	ctx := context.Background()
	g := sweep.Grid{Base: blumecapel.MustModelPoint(2, 1, 0), Param: sweep.ParamAnisotropy, Values: []float64{0}}
	run, err := s.NewRun(ctx, g, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sink := s.Sink(run.ID)
	rec := sweep.Record{Direction: sweep.Reverse, Point: g.Base, Steps: 7, Duration: time.Second, Err: errors.Wrap(blumecapel.ErrNumericalDivergence, "step 7")}
	if err := sink.Write(ctx, rec); err != nil {
		t.Fatalf("%+v", err)
	}
	// Rewriting a point replaces it.
	if err := sink.Write(ctx, rec); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	// Reopening keeps existing runs.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()
	saved, err := s.Records(ctx, run.ID)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("%+v", saved)
	}
	got := saved[0]
	if got.Direction != sweep.Reverse || got.Steps != 7 || got.Duration != time.Second || got.Observables != (ctm.Observables{}) {
		t.Fatalf("%+v", got)
	}
	if got.Err == nil || got.Err.Error() != rec.Err.Error() {
		t.Fatalf("%+v", got.Err)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	records := []sweep.Record{
		{Direction: sweep.Forward, Index: 0, Point: blumecapel.MustModelPoint(1.5, 1, -0.5), Observables: ctm.Observables{Magnetization: 0.75, FreeEnergy: -1.25, FixedMagnetization: 0.5, LogFixedRatio: -0.125}, Converged: true, Steps: 30},
		{Direction: sweep.Reverse, Index: 1, Point: blumecapel.MustModelPoint(2, 1, -0.5), Steps: 3, WarmStarted: true, Err: errors.New("diverged")},
	}
	var b bytes.Buffer
	if err := WriteCSV(&b, records); err != nil {
		t.Fatalf("%+v", err)
	}

	rows, err := csv.NewReader(&b).ReadAll()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	expected := [][]string{
		{"direction", "index", "temperature", "coupling", "anisotropy", "magnetization", "free_energy", "energy", "correlation_length", "fixed_magnetization", "log_fixed_ratio", "converged", "steps", "warm_started", "error"},
		{"forward", "0", "1.5", "1", "-0.5", "0.75", "-1.25", "0", "0", "0.5", "-0.125", "true", "30", "false", ""},
		{"reverse", "1", "2", "1", "-0.5", "0", "0", "0", "0", "0", "0", "false", "3", "true", "diverged"},
	}
	if len(rows) != len(expected) {
		t.Fatalf("%v", rows)
	}
	for i := range rows {
		if !slices.Equal(rows[i], expected[i]) {
			t.Fatalf("%d %v %v", i, rows[i], expected[i])
		}
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
