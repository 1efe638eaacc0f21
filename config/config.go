// Package config loads the configuration of a sweep.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fumin/blumecapel"
	"github.com/fumin/blumecapel/ctm"
	"github.com/fumin/blumecapel/sweep"
	"github.com/fumin/blumecapel/util"
)

// Config is the root configuration.
type Config struct {
	// The model point. The swept parameter is overridden by the sweep values.
	Temperature float64 `yaml:"temperature"`
	Coupling    float64 `yaml:"coupling"`
	Anisotropy  float64 `yaml:"anisotropy"`

	Solver SolverConfig `yaml:"solver"`
	Sweep  SweepConfig  `yaml:"sweep"`

	// Database is the sqlite file the records are saved to. When empty, the command picks a file in its run directory.
	Database string `yaml:"database"`
	// Metrics is the listen address of the Prometheus endpoint. Metrics are off when empty.
	Metrics string `yaml:"metrics"`
	// Trace prints a span per point to stderr.
	Trace bool `yaml:"trace"`
	// LogInterval is the least time between progress logs.
	LogInterval time.Duration `yaml:"log_interval"`
}

// SolverConfig holds the settings of a single point.
type SolverConfig struct {
	Chi      int     `yaml:"chi"`
	Tol      float64 `yaml:"tol"`
	MaxSteps int     `yaml:"max_steps"`
	Lag      int     `yaml:"lag"`
	Relative bool    `yaml:"relative"`
	Signal   string  `yaml:"signal"`
	Seed     string  `yaml:"seed"`
	// FixedEdge also grows an edge whose boundary spins are fixed up.
	FixedEdge bool `yaml:"fixed_edge"`
}

// SweepConfig holds the settings of the grid and its traversal.
// Values takes precedence over the range given by Start, Stop and Step.
type SweepConfig struct {
	Param  string    `yaml:"param"`
	Start  float64   `yaml:"start"`
	Stop   float64   `yaml:"stop"`
	Step   float64   `yaml:"step"`
	Values []float64 `yaml:"values"`

	UsePrev           bool `yaml:"use_prev"`
	Bidirectional     bool `yaml:"bidirectional"`
	Workers           int  `yaml:"workers"`
	CorrelationLength bool `yaml:"correlation_length"`
}

// Default returns the default configuration.
func Default() *Config {
	solver := ctm.NewOptions()
	criterion := solver.Criterion()
	return &Config{
		Temperature: 1.5,
		Coupling:    1,
		Anisotropy:  0,
		Solver: SolverConfig{
			Chi:      16,
			Tol:      criterion.Tol,
			MaxSteps: criterion.MaxSteps,
			Lag:      criterion.Lag,
			Signal:   ctm.SignalSingularValues.String(),
			Seed:     ctm.SeedUp.String(),
		},
		Sweep: SweepConfig{
			Param:   sweep.ParamTemperature.String(),
			Workers: 1,
		},
		LogInterval: 10 * time.Second,
	}
}

// Load loads the configuration from a yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Parse parses yaml over the default configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return cfg, nil
}

// Validate checks that the configuration describes a runnable sweep.
func (cfg *Config) Validate() error {
	if _, err := cfg.Grid(); err != nil {
		return errors.Wrap(err, "")
	}
	if _, err := cfg.Options(); err != nil {
		return errors.Wrap(err, "")
	}
	if cfg.LogInterval < 0 {
		return errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("log_interval %v", cfg.LogInterval))
	}
	return nil
}

// Grid returns the swept model points.
func (cfg *Config) Grid() (sweep.Grid, error) {
	param, err := sweep.ParseParam(cfg.Sweep.Param)
	if err != nil {
		return sweep.Grid{}, errors.Wrap(err, "")
	}

	values := cfg.Sweep.Values
	switch {
	case len(values) > 0:
	case cfg.Sweep.Step != 0:
		values, err = sweep.Range(cfg.Sweep.Start, cfg.Sweep.Stop, cfg.Sweep.Step)
		if err != nil {
			return sweep.Grid{}, errors.Wrap(err, "")
		}
	default:
		// A single point.
		switch param {
		case sweep.ParamTemperature:
			values = []float64{cfg.Temperature}
		case sweep.ParamCoupling:
			values = []float64{cfg.Coupling}
		case sweep.ParamAnisotropy:
			values = []float64{cfg.Anisotropy}
		}
	}

	base, err := blumecapel.NewModelPoint(cfg.Temperature, cfg.Coupling, cfg.Anisotropy)
	if err != nil {
		return sweep.Grid{}, errors.Wrap(err, "")
	}
	g := sweep.Grid{Base: base, Param: param, Values: values}
	if err := g.Validate(); err != nil {
		return sweep.Grid{}, errors.Wrap(err, "")
	}
	return g, nil
}

// SolverOptions returns the options of every point.
func (cfg *Config) SolverOptions() (ctm.Options, error) {
	signal, err := ctm.ParseSignal(cfg.Solver.Signal)
	if err != nil {
		return ctm.Options{}, errors.Wrap(err, "")
	}
	seed, err := ctm.ParseSeed(cfg.Solver.Seed)
	if err != nil {
		return ctm.Options{}, errors.Wrap(err, "")
	}

	opt := ctm.NewOptions().
		Chi(cfg.Solver.Chi).
		Tol(cfg.Solver.Tol).
		MaxSteps(cfg.Solver.MaxSteps).
		Lag(cfg.Solver.Lag).
		Relative(cfg.Solver.Relative).
		Signal(signal).
		Seed(seed).
		FixedEdge(cfg.Solver.FixedEdge)
	if err := opt.Validate(); err != nil {
		return ctm.Options{}, errors.Wrap(err, "")
	}
	return opt, nil
}

// Options returns the options of the sweep, without metrics or tracing.
func (cfg *Config) Options() (sweep.Options, error) {
	solver, err := cfg.SolverOptions()
	if err != nil {
		return sweep.Options{}, errors.Wrap(err, "")
	}
	if cfg.Sweep.Workers <= 0 {
		return sweep.Options{}, errors.Wrap(blumecapel.ErrInvalidParameter, fmt.Sprintf("workers %d", cfg.Sweep.Workers))
	}

	opt := sweep.NewOptions().
		Solver(solver).
		UsePrev(cfg.Sweep.UsePrev).
		Bidirectional(cfg.Sweep.Bidirectional).
		Workers(cfg.Sweep.Workers).
		CorrelationLength(cfg.Sweep.CorrelationLength)
	if cfg.LogInterval > 0 {
		opt = opt.Throttler(util.NewSkipThrottler(cfg.LogInterval))
	}
	return opt, nil
}
