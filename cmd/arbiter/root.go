package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/infrastructure/logging"
	"github.com/ahrav/go-arbiter/infrastructure/middleware"
	"github.com/ahrav/go-arbiter/infrastructure/storage"
	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/ingest"
	"github.com/ahrav/go-arbiter/internal/ports"
	"github.com/ahrav/go-arbiter/internal/recovery"
)

// EnvConfigPath names the variable consulted when --config is not given.
const EnvConfigPath = "ARBITER_CONFIG"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	storePath  string
	ephemeral  bool
	trace      bool
}

// app holds the dependencies built once per invocation in the root
// command's PersistentPreRunE.
type app struct {
	flags  globalFlags
	cfg    application.Config
	loader *application.FileConfigLoader
	logger *zap.Logger
	level  zap.AtomicLevel

	registry *prometheus.Registry
	metrics  *middleware.PrometheusMetrics
	tracer   *sdktrace.TracerProvider

	store    ports.DecisionStore
	ingest   *application.IngestService
	sessions *application.Sessions

	// newLLM builds the judge's client. Tests replace it.
	newLLM func(cfg application.JudgeConfig, metrics ports.MetricsCollector) (ports.LLMClient, string, error)
}

func newApp() *app {
	return &app{newLLM: newJudgeClient}
}

// newRootCmd builds the command tree around a. Callers run teardown after
// Execute returns, whether or not the command failed.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "arbiter",
		Short: "Review and compare code-suggestion outputs",
		Long: `arbiter loads batches of code-review suggestions produced by
different models, lets a reviewer pick winners or approve individual
suggestions, and exports the decisions as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "path to a YAML config file (env "+EnvConfigPath+")")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&a.flags.storePath, "store", "", "decision store directory (overrides storage.path)")
	pf.BoolVar(&a.flags.ephemeral, "ephemeral", false, "keep decisions in memory only")
	pf.BoolVar(&a.flags.trace, "trace", false, "print finished spans to stderr")

	root.AddCommand(
		newIngestCmd(a),
		newReviewCmd(a),
		newServeCmd(a),
		newDiffCmd(a),
		newExportCmd(a),
		newJudgeCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger, metrics and ingest
// pipeline. The decision store is opened lazily by openStore.
func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.cfg = application.DefaultConfig()

	path := a.flags.configPath
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		loader, err := application.NewFileConfigLoader(path, nil)
		if err != nil {
			return err
		}
		if err := loader.Load(ctx, &a.cfg); err != nil {
			return err
		}
		a.loader = loader
	}
	if a.flags.storePath != "" {
		a.cfg.Storage.Path = a.flags.storePath
	}
	if a.flags.ephemeral {
		a.cfg.Storage.InMemory = true
	}

	logger, level, err := logging.New(logging.Config{
		Level:   a.cfg.Log.Level,
		Format:  a.cfg.Log.Format,
		Verbose: a.flags.verbose,
	})
	if err != nil {
		return err
	}
	a.logger, a.level = logger, level
	if a.loader != nil {
		a.logger.Debug("configuration loaded", zap.String("path", a.loader.Path()))
	}

	tp, err := newTracerProvider(a.flags.trace, os.Stderr)
	if err != nil {
		return err
	}
	a.tracer = tp
	otel.SetTracerProvider(tp)

	a.registry = prometheus.NewRegistry()
	a.metrics = middleware.NewPrometheusMetrics(a.registry)

	var collector ports.MetricsCollector
	if a.cfg.Metrics.Enabled {
		collector = a.metrics
	}
	engine := recovery.NewEngine(
		recovery.WithLogger(a.logger.Named("recovery")),
		recovery.WithMetrics(collector),
		recovery.WithPreviewLimit(a.cfg.Recovery.FallbackPreview),
	)
	extractor := recovery.NewExtractor(engine,
		recovery.WithMaxDepth(a.cfg.Recovery.MaxDepth),
		recovery.WithExtractorLogger(a.logger.Named("extractor")),
	)
	assembler := ingest.NewAssembler(engine, extractor, ingest.WithLogger(a.logger.Named("ingest")))
	a.ingest = application.NewIngestService(assembler, collector, a.logger.Named("ingest"))
	return nil
}

// traceFlushTimeout bounds exporting buffered spans on exit.
const traceFlushTimeout = 5 * time.Second

// newTracerProvider samples every root span. With export set, finished
// spans are written to w as indented JSON.
func newTracerProvider(export bool, w io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if export {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create span exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// openStore opens the configured decision store and the session registry
// on top of it.
func (a *app) openStore() error {
	if a.sessions != nil {
		return nil
	}
	if a.cfg.Storage.InMemory {
		a.store = storage.NewMemoryStore()
	} else {
		cfg := storage.DefaultConfig(a.cfg.Storage.Path)
		cfg.Logger = a.logger.Named("badger")
		store, err := storage.OpenBadger(cfg)
		if err != nil {
			return err
		}
		a.store = store
	}

	opts := []application.SessionOption{
		application.WithSessionLogger(a.logger.Named("session")),
		application.WithDefaultLabels(a.cfg.Labels),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, application.WithSessionMetrics(a.metrics))
	}
	a.sessions = application.NewSessions(a.store, opts...)
	return nil
}

func (a *app) teardown() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
		if err := a.tracer.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn("failed to flush spans", zap.Error(err))
		}
		cancel()
	}
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil && !errors.Is(err, ports.ErrStoreClosed) {
			a.logger.Warn("failed to close decision store", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// loadFile reads path and ingests it. A batch in which every row failed
// is returned with its document so the caller can print the report.
func (a *app) loadFile(ctx context.Context, path string) (*application.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return a.ingest.Load(ctx, string(data))
}

// openSession ingests path and opens its review session.
func (a *app) openSession(ctx context.Context, path string) (*application.Session, error) {
	doc, err := a.loadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := a.openStore(); err != nil {
		return nil, err
	}
	return a.sessions.Open(ctx, doc)
}
