package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/mender/internal/config"
	"github.com/harrison/mender/internal/crash"
	"github.com/harrison/mender/internal/filelock"
	"github.com/harrison/mender/internal/knowledge"
	"github.com/harrison/mender/internal/logger"
	"github.com/harrison/mender/internal/models"
	"github.com/harrison/mender/internal/oracle"
	"github.com/harrison/mender/internal/patch"
	"github.com/harrison/mender/internal/repair"
	"github.com/harrison/mender/internal/validation"
)

// Collaborator constructors, replaced in tests.
var (
	newOracle = func(cfg oracle.Config) (repair.Oracle, error) {
		return oracle.New(cfg)
	}
	newValidator = func(commands []string) repair.Validator {
		return validation.New(commands, nil)
	}
)

// errRepairFailed marks a run that ended without a passing fix.
var errRepairFailed = errors.New("repair did not succeed")

// projectRoot resolves the optional [root] argument to an absolute path.
func projectRoot(args []string, index int) (string, error) {
	root := "."
	if len(args) > index {
		root = args[index]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return abs, nil
}

// addConfigFlags registers the flags shared by repair and watch.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: <root>/.mender/config.yaml)")
	cmd.Flags().Int("max-iterations", 0, "Maximum repair attempts (default from config: 3)")
	cmd.Flags().Duration("diagnose-timeout", 0, "Timeout per diagnosis call (e.g. 2m)")
	cmd.Flags().Duration("apply-timeout", 0, "Timeout per patch application")
	cmd.Flags().Duration("validate-timeout", 0, "Timeout per validation run")
	cmd.Flags().String("oracle", "", "Diagnosis backend: claude, openai or groq")
	cmd.Flags().String("model", "", "Model passed to the diagnosis backend")
	cmd.Flags().Bool("revert", false, "Revert an attempt's edits when its validation fails")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for run logs")
}

// loadConfig loads the project config and applies changed flags on top.
func loadConfig(cmd *cobra.Command, root string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.MergeWithFlags(flagOverrides(cmd))

	if err := cfg.Validate(); err != nil {
		return nil, repair.NewStepError(models.ErrorConfiguration, 0, "invalid configuration", err)
	}
	return cfg, nil
}

// flagOverrides collects the flags the user actually set.
func flagOverrides(cmd *cobra.Command) config.FlagOverrides {
	var f config.FlagOverrides
	flags := cmd.Flags()

	if flags.Changed("max-iterations") {
		v, _ := flags.GetInt("max-iterations")
		f.MaxIterations = &v
	}
	durations := []struct {
		name string
		dst  **time.Duration
	}{
		{"diagnose-timeout", &f.DiagnoseTimeout},
		{"apply-timeout", &f.ApplyTimeout},
		{"validate-timeout", &f.ValidateTimeout},
	}
	for _, d := range durations {
		if flags.Changed(d.name) {
			v, _ := flags.GetDuration(d.name)
			*d.dst = &v
		}
	}
	if flags.Changed("revert") {
		v, _ := flags.GetBool("revert")
		f.Revert = &v
	}
	strs := []struct {
		name string
		dst  **string
	}{
		{"oracle", &f.Provider},
		{"model", &f.Model},
		{"log-level", &f.LogLevel},
		{"log-dir", &f.LogDir},
	}
	for _, s := range strs {
		if flags.Changed(s.name) {
			v, _ := flags.GetString(s.name)
			*s.dst = &v
		}
	}
	return f
}

// session holds everything one repair or watch invocation needs. The
// caller owns the project lock.
type session struct {
	root    string
	cfg     *config.Config
	store   *knowledge.Store
	source  *crash.Source
	console *logger.ConsoleLogger
	file    *logger.FileLogger
	service *repair.Service
}

// openSession wires the store, loggers and orchestrator for root. Console
// output goes to out; extra observers (metrics) run after the loggers.
func openSession(out io.Writer, root string, cfg *config.Config, extra ...repair.Observer) (*session, error) {
	s := &session{
		root:    root,
		cfg:     cfg,
		source:  crash.NewSource(cfg.CrashesDirPath(root)),
		console: logger.NewConsoleLogger(out, cfg.LogLevel),
	}

	o, err := newOracle(cfg.OracleSettings())
	if err != nil {
		return nil, fmt.Errorf("configure oracle: %w", err)
	}

	s.store, err = knowledge.NewStore(cfg.KnowledgeDBPath(root))
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}

	s.file, err = logger.NewFileLoggerWithLevel(cfg.LogDirPath(root), cfg.LogLevel)
	if err != nil {
		s.store.Close()
		return nil, fmt.Errorf("open run log: %w", err)
	}

	observers := repair.Observers{s.console, s.file}
	observers = append(observers, extra...)

	orchestrator, err := repair.NewOrchestrator(repair.Deps{
		Oracle:    o,
		Applier:   patch.New(),
		Validator: newValidator(cfg.Validation.Commands),
		Store:     s.store,
		Observer:  observers,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.service = repair.NewService(s.source, orchestrator)
	return s, nil
}

// Close releases the store and run log.
func (s *session) Close() error {
	var errs []error
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// logStats prints knowledge statistics; failures are only warnings.
func (s *session) logStats(ctx context.Context, label string) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		s.console.LogWarn(fmt.Sprintf("%s: %v", label, err))
		return
	}
	s.console.LogStats(label, *stats)
	s.file.LogStats(label, *stats)
}

// repair runs one repair, bracketed by knowledge statistics.
func (s *session) repair(ctx context.Context, crashID string) (*models.RepairOutcome, error) {
	s.logStats(ctx, "Knowledge before")

	outcome, err := s.service.RunRepair(ctx, s.root, repair.RunOptions{
		Options: s.cfg.RepairOptions(),
		CrashID: crashID,
	})
	if err != nil {
		return nil, err
	}

	s.logStats(context.WithoutCancel(ctx), "Knowledge after")
	return outcome, nil
}

// lockProject takes the project lock. A busy lock keeps
// filelock.ErrRepairInProgress in the chain.
func lockProject(root string) (*filelock.FileLock, error) {
	lock, err := filelock.ProjectLock(root)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", root, err)
	}
	return lock, nil
}
