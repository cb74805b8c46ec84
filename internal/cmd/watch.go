package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/mender/internal/crash"
	"github.com/harrison/mender/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// NewWatchCommand creates the watch command
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Repair crashes as they are recorded",
		Long: `Watch a project's crash directory and repair every new crash record as it
appears. Repairs run one at a time; records already present at start are
ignored. The project lock is held for the whole session.

With --metrics-addr, Prometheus metrics for the session are served at
/metrics.

Examples:
  mender watch
  mender watch ./service --metrics-addr :9464
  mender watch --max-repairs 1`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}

	addConfigFlags(cmd)
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().Int("max-repairs", 0, "Stop after this many repairs (0 = until interrupted)")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(args, 0)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	maxRepairs, _ := cmd.Flags().GetInt("max-repairs")
	if maxRepairs < 0 {
		return fmt.Errorf("--max-repairs must be >= 0")
	}

	lock, err := lockProject(root)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	recorder := metrics.NewRecorder()
	s, err := openSession(cmd.OutOrStdout(), root, cfg, recorder)
	if err != nil {
		return err
	}
	defer s.Close()

	watcher, err := s.source.NewWatcher(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.source.Path(root), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.console.LogInfo(fmt.Sprintf("Watching %s for crash records", watcher.Dir()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return watchLoop(gctx, s, watcher.Events(), watcher.Errors(), maxRepairs)
	})

	g.Go(func() error {
		<-gctx.Done()
		return watcher.Close()
	})

	if metricsAddr != "" {
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(recorder),
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.console.LogInfo(fmt.Sprintf("Serving metrics on %s/metrics", metricsAddr))

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(gctx), metricsShutdownTimeout)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsMux(recorder *metrics.Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	return mux
}

// watchLoop repairs each crash event in turn until ctx is done or
// maxRepairs runs have finished. Runs that never started do not count.
// Failed runs and watcher errors are logged and do not end the loop.
func watchLoop(ctx context.Context, s *session, events <-chan crash.Event, errs <-chan error, maxRepairs int) error {
	repairs := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.console.LogWarn(fmt.Sprintf("Watcher: %v", err))

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.console.LogInfo(fmt.Sprintf("New crash record: %s", ev.ID))

			if _, err := s.repair(ctx, ev.ID); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.console.LogError(fmt.Sprintf("Repair of %s did not start: %v", ev.ID, err))
				continue
			}

			repairs++
			if maxRepairs > 0 && repairs >= maxRepairs {
				return nil
			}
		}
	}
}
