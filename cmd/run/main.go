package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/fumin/blumecapel/config"
	"github.com/fumin/blumecapel/store"
	"github.com/fumin/blumecapel/sweep"
)

const (
	fnameDB = "sweep.db"
)

var (
	configPath = flag.String("config", "", "yaml configuration, defaults are used when empty")
	runDir     = flag.String("d", filepath.Join("runs", "blumecapel"), "run directory, holds the database unless the configuration names one")
	printRun   = flag.String("print", "", "print the records of a previous run instead of sweeping")
)

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	dbPath := cfg.Database
	if dbPath == "" {
		if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
			return nil, errors.Wrap(err, "")
		}
		dbPath = filepath.Join(*runDir, fnameDB)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func serveMetrics(addr string, c *sweep.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("%+v", errors.Wrap(err, addr))
		}
	}()
	return srv
}

func newTracerProvider() (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "")
	}
	s, err := openStore(cfg)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer s.Close()

	if *printRun != "" {
		records, err := s.Records(ctx, *printRun)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := store.WriteCSV(os.Stdout, records); err != nil {
			return errors.Wrap(err, "")
		}
		return nil
	}

	g, err := cfg.Grid()
	if err != nil {
		return errors.Wrap(err, "")
	}
	opt, err := cfg.Options()
	if err != nil {
		return errors.Wrap(err, "")
	}

	if cfg.Metrics != "" {
		c, err := sweep.NewCollector(prometheus.NewRegistry())
		if err != nil {
			return errors.Wrap(err, "")
		}
		opt = opt.Collector(c)
		srv := serveMetrics(cfg.Metrics, c)
		defer srv.Close()
	}
	if cfg.Trace {
		tp, err := newTracerProvider()
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Printf("%+v", err)
			}
		}()
		opt = opt.Tracer(tp.Tracer("github.com/fumin/blumecapel/cmd/run"))
	}

	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "")
	}
	run, err := s.NewRun(ctx, g, string(b))
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("run %s %v %v points %d", run.ID, g.Base, g.Param, len(g.Values))

	start := time.Now()
	records, err := sweep.Run(ctx, g, s.Sink(run.ID), opt)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("run %s", run.ID))
	}
	log.Printf("run %s done in %v", run.ID, time.Since(start))

	if err := store.WriteCSV(os.Stdout, records); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
