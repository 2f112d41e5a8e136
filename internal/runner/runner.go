package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/history"
	historypg "github.com/sqlrun/sqlrun/internal/history/postgres"
	"github.com/sqlrun/sqlrun/internal/loader"
	"github.com/sqlrun/sqlrun/internal/observability"
	"github.com/sqlrun/sqlrun/internal/query"
	_ "github.com/sqlrun/sqlrun/internal/query/duckdb"
	_ "github.com/sqlrun/sqlrun/internal/query/sqlite"
	"github.com/sqlrun/sqlrun/internal/report"
	"github.com/sqlrun/sqlrun/internal/storage"
	"github.com/sqlrun/sqlrun/internal/storage/s3"
)

type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Lookup config.LookupFunc

	OpenEngine   func(ctx context.Context, cfg config.EngineConfig) (query.Engine, error)
	OpenStore    func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error)
	OpenRecorder func(ctx context.Context, cfg config.HistoryConfig) (history.Recorder, error)
	Now          func() time.Time
}

type flagValues struct {
	configPath  string
	engine      string
	maxRows     int
	maxColWidth int
	parquet     bool
}

// Run executes one query run and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	opts = withDefaults(opts)

	exitCode := 0
	flags := &flagValues{}
	cmd := &cobra.Command{
		Use:           "sqlrun [flags] <path_to_sql_file> <path_to_data_folder> <path_to_log_file>",
		Short:         "Run a SQL query over a folder of CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 3 {
				return errArgCount
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = runCommand(cmd, args, flags, opts)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "YAML config file (overrides SQLRUN_CONFIG)")
	cmd.Flags().StringVar(&flags.engine, "engine", "", "query engine: "+strings.Join(query.Drivers(), ", "))
	cmd.Flags().IntVar(&flags.maxRows, "max-rows", 0, "rows shown in the log preview")
	cmd.Flags().IntVar(&flags.maxColWidth, "max-col-width", 0, "maximum characters per preview cell")
	cmd.Flags().BoolVar(&flags.parquet, "parquet", false, "also write a Parquet copy of the result")

	cmd.SetArgs(args)
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errArgCount) {
			_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n\n", err)
		}
		writeUsage(opts.Stderr)
		return 1
	}
	return exitCode
}

func withDefaults(opts Options) Options {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.OpenEngine == nil {
		opts.OpenEngine = query.Open
	}
	if opts.OpenStore == nil {
		opts.OpenStore = func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
			store, err := s3.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	}
	if opts.OpenRecorder == nil {
		opts.OpenRecorder = func(ctx context.Context, cfg config.HistoryConfig) (history.Recorder, error) {
			recorder, err := historypg.Open(ctx, cfg.DSN)
			if err != nil {
				return nil, err
			}
			return recorder, nil
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

func runCommand(cmd *cobra.Command, args []string, flags *flagValues, opts Options) int {
	cfg, err := loadConfig(cmd, flags, opts.Lookup)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}

	paths := RunPaths{QueryPath: args[0], DataDir: args[1], LogPath: args[2]}
	if err := ValidateArgs(paths, cfg.Layout.QuerySuffix, opts.Stderr); err != nil {
		return 1
	}

	runLog, err := observability.OpenRunLog(paths.LogPath, opts.Stderr, cfg.Observability.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = runLog.Close() }()

	s := &session{
		cfg:     cfg,
		paths:   paths,
		opts:    opts,
		logger:  runLog.Logger,
		metrics: observability.NewRunMetrics(cfg.Engine.Driver),
		started: opts.Now(),
	}
	return s.execute(cmd.Context())
}

func loadConfig(cmd *cobra.Command, flags *flagValues, lookup config.LookupFunc) (config.Config, error) {
	cfg, err := config.ResolveWithFile(flags.configPath, lookup)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("engine") {
		cfg.Engine.Driver = flags.engine
	}
	if cmd.Flags().Changed("max-rows") {
		cfg.Preview.MaxRows = flags.maxRows
	}
	if cmd.Flags().Changed("max-col-width") {
		cfg.Preview.MaxColWidth = flags.maxColWidth
	}
	if cmd.Flags().Changed("parquet") {
		cfg.Output.Parquet = flags.parquet
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session holds the state of one run once logging is up.
type session struct {
	cfg     config.Config
	paths   RunPaths
	opts    Options
	logger  *slog.Logger
	metrics *observability.RunMetrics
	started time.Time

	engine       query.Engine
	engineName   string
	tablesLoaded int
	tablesFailed int
	resultRows   int64
	outputPath   string
}

func (s *session) execute(ctx context.Context) (code int) {
	var runErr error
	defer func() {
		if recovered := recover(); recovered != nil {
			runErr = &StageError{Stage: StageUnexpected, Err: fmt.Errorf("%v", recovered)}
		}
		if runErr != nil {
			code = 1
			if !reported(runErr) {
				s.logger.Error(fmt.Sprintf("Unexpected error: %v", errors.Unwrap(runErr)))
				_, _ = fmt.Fprintf(s.opts.Stderr, "Error: Query execution failed. Check %s for details.\n", s.paths.LogPath)
			}
		}
		s.finalize(ctx, runErr)
	}()

	runErr = s.pipeline(ctx)
	return 0
}

func (s *session) pipeline(ctx context.Context) error {
	s.logStartBanner()

	engine, err := s.opts.OpenEngine(ctx, s.cfg.Engine)
	if err != nil {
		return &StageError{Stage: StageEngine, Err: err}
	}
	s.engine = engine
	s.engineName = engine.Name()
	s.logger.Info("✓ Connected to " + s.engineName)

	loaded, err := loader.Load(ctx, s.paths.DataDir, engine, s.logger)
	s.tablesLoaded, s.tablesFailed = len(loaded.Loaded), len(loaded.Failed)
	s.metrics.ObserveLoad(s.tablesLoaded, s.tablesFailed)
	if err != nil {
		return &StageError{Stage: StageLoad, Err: err}
	}
	if len(loaded.Loaded) == 0 {
		s.logger.Error("No tables were loaded successfully. Cannot proceed.")
		return &StageError{Stage: StageLoad, Err: errNoTables, Reported: true}
	}
	s.logger.Info(fmt.Sprintf("✓ Successfully loaded %d table(s): %s", len(loaded.Loaded), strings.Join(loaded.Names(), ", ")))

	sqlText, err := ReadQuery(s.paths.QueryPath, s.logger)
	if err != nil {
		return &StageError{Stage: StageRead, Err: err, Reported: true}
	}

	result, err := ExecuteQuery(ctx, engine, sqlText, s.logger)
	if err != nil {
		return &StageError{Stage: StageExecute, Err: err, Reported: true}
	}
	s.resultRows = int64(len(result.Rows))
	s.metrics.ObserveQuery(len(result.Rows), result.Duration)

	report.Preview(s.logger, result, report.PreviewOptions{
		MaxRows:     s.cfg.Preview.MaxRows,
		MaxColWidth: s.cfg.Preview.MaxColWidth,
	})

	outputPath := report.OutputPath(s.paths.QueryPath, s.cfg.Layout)
	artifacts, err := report.Persist(result, outputPath, report.PersistOptions{Parquet: s.cfg.Output.Parquet})
	if err != nil {
		s.logger.Error(fmt.Sprintf("✗ Failed to save results to CSV: %v", err))
		return &StageError{Stage: StagePersist, Err: err, Reported: true}
	}
	s.outputPath = artifacts.CSV
	s.logger.Info(fmt.Sprintf("✓ Query results saved to '%s'", artifacts.CSV))
	if artifacts.Parquet != "" {
		s.logger.Info(fmt.Sprintf("✓ Parquet copy saved to '%s'", artifacts.Parquet))
	}

	s.publish(ctx, artifacts)

	rule := strings.Repeat("=", 60)
	s.logger.Info(rule)
	s.logger.Info("EXECUTION COMPLETED SUCCESSFULLY")
	s.logger.Info(fmt.Sprintf("Results saved to: %s", artifacts.CSV))
	s.logger.Info(fmt.Sprintf("Logs saved to: %s", s.paths.LogPath))
	s.logger.Info(rule)

	_, _ = fmt.Fprintf(s.opts.Stdout, "Query executed successfully. Results logged to %s\n", s.paths.LogPath)
	return nil
}

func (s *session) logStartBanner() {
	rule := strings.Repeat("=", 60)
	s.logger.Info(rule)
	s.logger.Info("DATA WAREHOUSE LAB - SQL QUERY EXECUTION")
	s.logger.Info(rule)
	s.logger.Info("Execution started at: " + s.started.Format("2006-01-02 15:04:05"))
	s.logger.Info("SQL file: " + s.paths.QueryPath)
	s.logger.Info("Data folder: " + s.paths.DataDir)
	s.logger.Info("Log file: " + s.paths.LogPath)
	s.logger.Info("Engine: " + s.cfg.Engine.Driver)
	s.logger.Info(rule)
}

// publish uploads the run artifacts when an object store is configured.
// Upload problems never fail the run.
func (s *session) publish(ctx context.Context, artifacts report.Artifacts) {
	if !s.cfg.ObjectStore.Enabled() {
		return
	}
	store, err := s.opts.OpenStore(ctx, s.cfg.ObjectStore)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Skipping artifact upload: %v", err))
		return
	}
	publisher, err := storage.NewPublisher(store)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Skipping artifact upload: %v", err))
		return
	}
	infos, err := publisher.Publish(ctx, artifacts.Paths()...)
	for _, info := range infos {
		s.logger.Info(fmt.Sprintf("✓ Uploaded '%s' to bucket '%s'", info.Key, s.cfg.ObjectStore.Bucket))
	}
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Artifact upload failed: %v", err))
	}
}

// finalize runs on every exit branch. The engine is closed last and only
// once.
func (s *session) finalize(ctx context.Context, runErr error) {
	finished := s.opts.Now()
	s.metrics.Finish(runErr == nil, finished)
	if path := strings.TrimSpace(s.cfg.Metrics.TextfilePath); path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.logger.Warn(fmt.Sprintf("Failed to write run metrics: %v", err))
		}
	}

	if s.cfg.History.Enabled() {
		s.recordHistory(ctx, runErr, finished)
	}

	if s.engine != nil {
		engine := s.engine
		s.engine = nil
		if err := engine.Close(); err != nil {
			s.logger.Warn(fmt.Sprintf("Failed to close %s connection: %v", s.engineName, err))
			return
		}
		s.logger.Info(fmt.Sprintf("✓ %s connection closed", s.engineName))
	}
}

func (s *session) recordHistory(ctx context.Context, runErr error, finished time.Time) {
	run := history.Run{
		StudentID:    s.cfg.History.StudentID,
		QueryPath:    s.paths.QueryPath,
		DataDir:      s.paths.DataDir,
		Engine:       s.engineName,
		Status:       history.StatusSucceeded,
		TablesLoaded: s.tablesLoaded,
		TablesFailed: s.tablesFailed,
		ResultRows:   s.resultRows,
		OutputPath:   s.outputPath,
		StartedAt:    s.started,
		FinishedAt:   finished,
	}
	if run.Engine == "" {
		run.Engine = s.cfg.Engine.Driver
	}
	if runErr != nil {
		run.Status = history.StatusFailed
		run.FailedStage = string(failedStage(runErr))
		run.Error = errors.Unwrap(runErr).Error()
	}

	recorder, err := s.opts.OpenRecorder(ctx, s.cfg.History)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Skipping run history: %v", err))
		return
	}
	defer func() { _ = recorder.Close() }()
	if err := recorder.Record(ctx, run); err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to record run history: %v", err))
	}
}
