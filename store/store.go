// Package store persists sweeps in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/ctm"
	"github.com/fumin/blumecapel/sweep"
)

const (
	tableRuns    = "runs"
	tableRecords = "records"

	timeout = 3 * time.Second
)

// Run describes one sweep.
type Run struct {
	ID      string
	Created time.Time
	Param   sweep.Param
	Base    blumecapel.ModelPoint
	// Config is the configuration the sweep was started with, verbatim.
	Config string
}

type Store struct {
	Path string
	db   *sql.DB
}

// Open opens the database at path, creating it if necessary.
// Existing runs are kept.
func Open(path string) (*Store, error) {
	db, err := newDB(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &Store{Path: path, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewRun registers a new sweep over g.
func (s *Store) NewRun(ctx context.Context, g sweep.Grid, config string) (Run, error) {
	r := Run{ID: uuid.New().String(), Created: time.Now().UTC(), Param: g.Param, Base: g.Base, Config: config}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT INTO %s (id, created, param, temperature, coupling, anisotropy, config) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableRuns)
	args := []any{r.ID, r.Created.Format(time.RFC3339Nano), r.Param.String(), r.Base.Temperature(), r.Base.Coupling(), r.Base.Anisotropy(), r.Config}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Run{}, errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return r, nil
}

// Runs returns every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT id, created, param, temperature, coupling, anisotropy, config FROM %s ORDER BY created, id`, tableRuns)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var r Run
		var created, param string
		var t, j, delta float64
		if err := rows.Scan(&r.ID, &created, &param, &t, &j, &delta, &r.Config); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if r.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, errors.Wrap(err, r.ID)
		}
		if r.Param, err = sweep.ParseParam(param); err != nil {
			return nil, errors.Wrap(err, r.ID)
		}
		if r.Base, err = blumecapel.NewModelPoint(t, j, delta); err != nil {
			return nil, errors.Wrap(err, r.ID)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runs, nil
}

// Sink returns a sink that saves the records of the run id.
func (s *Store) Sink(id string) sweep.Sink {
	return &sink{db: s.db, run: id}
}

type sink struct {
	db  *sql.DB
	run string
}

func (sk *sink) Write(ctx context.Context, r sweep.Record) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, direction, idx, temperature, coupling, anisotropy, magnetization, free_energy, energy, log_partition, correlation_length, fixed_magnetization, log_fixed_ratio, converged, steps, warm_started, duration_ns, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableRecords)
	args := []any{sk.run, r.Direction.String(), r.Index, r.Point.Temperature(), r.Point.Coupling(), r.Point.Anisotropy()}
	if r.Err != nil {
		args = append(args, nil, nil, nil, nil, nil, nil, nil)
	} else {
		args = append(args, r.Magnetization, r.FreeEnergy, r.Energy, r.LogPartition, r.CorrelationLength, r.FixedMagnetization, r.LogFixedRatio)
	}
	var errStr sql.NullString
	if r.Err != nil {
		errStr = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	args = append(args, r.Converged, r.Steps, r.WarmStarted, r.Duration.Nanoseconds(), errStr)
	if _, err := sk.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// Records returns the records of the run id, ordered by direction and index.
func (s *Store) Records(ctx context.Context, id string) ([]sweep.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT direction, idx, temperature, coupling, anisotropy, magnetization, free_energy, energy, log_partition, correlation_length, fixed_magnetization, log_fixed_ratio, converged, steps, warm_started, duration_ns, error FROM %s WHERE run=? ORDER BY direction='%s' DESC, idx`, tableRecords, sweep.Forward)
	rows, err := s.db.QueryContext(ctx, sqlStr, id)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	records := make([]sweep.Record, 0)
	for rows.Next() {
		var r sweep.Record
		var direction string
		var t, j, delta float64
		var m, f, e, logZ, xi, mFixed, logFixed sql.NullFloat64
		var durationNS int64
		var errStr sql.NullString
		if err := rows.Scan(&direction, &r.Index, &t, &j, &delta, &m, &f, &e, &logZ, &xi, &mFixed, &logFixed, &r.Converged, &r.Steps, &r.WarmStarted, &durationNS, &errStr); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if r.Direction, err = sweep.ParseDirection(direction); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if r.Point, err = blumecapel.NewModelPoint(t, j, delta); err != nil {
			return nil, errors.Wrap(err, "")
		}
		r.Observables = ctm.Observables{
			Magnetization:      m.Float64,
			FreeEnergy:         f.Float64,
			Energy:             e.Float64,
			LogPartition:       logZ.Float64,
			FixedMagnetization: mFixed.Float64,
			LogFixedRatio:      logFixed.Float64,
		}
		r.CorrelationLength = xi.Float64
		r.Duration = time.Duration(durationNS)
		if errStr.Valid {
			r.Err = errors.New(errStr.String)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return records, nil
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []sweep.Record) error {
	cw := csv.NewWriter(w)
	header := []string{"direction", "index", "temperature", "coupling", "anisotropy", "magnetization", "free_energy", "energy", "correlation_length", "fixed_magnetization", "log_fixed_ratio", "converged", "steps", "warm_started", "error"}
	var err error
	if err1 := cw.Write(header); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	for _, r := range records {
		var errStr string
		if r.Err != nil {
			errStr = r.Err.Error()
		}
		row := []string{
			r.Direction.String(),
			strconv.Itoa(r.Index),
			formatFloat(r.Point.Temperature()),
			formatFloat(r.Point.Coupling()),
			formatFloat(r.Point.Anisotropy()),
			formatFloat(r.Magnetization),
			formatFloat(r.FreeEnergy),
			formatFloat(r.Energy),
			formatFloat(r.CorrelationLength),
			formatFloat(r.FixedMagnetization),
			formatFloat(r.LogFixedRatio),
			strconv.FormatBool(r.Converged),
			strconv.Itoa(r.Steps),
			strconv.FormatBool(r.WarmStarted),
			errStr,
		}
		if err1 := cw.Write(row); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}

	cw.Flush()
	if err1 := cw.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	// Sweeps write from several goroutines.
	db.SetMaxOpenConns(1)

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, created TEXT, param TEXT, temperature REAL, coupling REAL, anisotropy REAL, config TEXT) STRICT`, tableRuns)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run TEXT, direction TEXT, idx INTEGER,
		temperature REAL, coupling REAL, anisotropy REAL,
		magnetization REAL, free_energy REAL, energy REAL, log_partition REAL, correlation_length REAL,
		fixed_magnetization REAL, log_fixed_ratio REAL,
		converged INTEGER, steps INTEGER, warm_started INTEGER, duration_ns INTEGER, error TEXT,
		PRIMARY KEY (run, direction, idx)) STRICT`, tableRecords)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
