package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/otomed/otomed3/internal/alert"
	"github.com/otomed/otomed3/internal/dispatch"
	"github.com/otomed/otomed3/internal/httpapi"
	"github.com/otomed/otomed3/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mention-response daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// errRestart ends the run group when SIGHUP asks for a re-exec.
var errRestart = errors.New("restart requested")

func writePIDFile(pidPath string) error {
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper := &scheduler.Sweeper{
		Dir:    a.dispatcher.TempDir(),
		Prefix: dispatch.TempPrefix,
		Suffix: dispatch.TempSuffix,
		MaxAge: cfg.SweepMaxAge(),
		Logger: logger,
	}
	sched, err := newSweepScheduler(ctx, cfg.Maintenance.SweepSchedule, sweeper, logger)
	if err != nil {
		return err
	}

	var ln net.Listener
	if cfg.HTTP.Addr != "" {
		if ln, err = httpapi.Listen(cfg.HTTP.Addr); err != nil {
			return err
		}
		defer ln.Close()
	}

	if err := a.poller.Verify(ctx); err != nil {
		a.alerter.Notify(ctx, fmt.Sprintf("otomed: startup failed: %v", err))
		return err
	}

	logger.Info("otomed started",
		"version", version,
		"account", a.poller.Self(),
		"server", cfg.Mastodon.BaseURL,
		"llm_model", cfg.LLM.Model,
		"image_model", cfg.Image.Model,
		"cursor_backend", cfg.Cursor.Backend,
		"pid_file", pidPath,
	)

	// Reclaim files left by an interrupted previous run.
	if _, err := sweeper.Sweep(); err != nil {
		logger.Warn("startup temp sweep failed", "error", err)
	}

	svc := services{
		loop:     a.poller.Run,
		sched:    sched,
		listener: ln,
		handler:  httpapi.NewServer(a.poller, logger),
		alerter:  a.alerter,
		logger:   logger,
	}
	err = svc.run(ctx)
	if errors.Is(err, errRestart) {
		a.Close()
		return reexec(pidPath)
	}
	logger.Info("shutting down")
	return err
}

// newSweepScheduler registers the temp sweep. An empty schedule disables it
// and returns a nil scheduler.
func newSweepScheduler(ctx context.Context, schedule string, sweeper *scheduler.Sweeper, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if schedule == "" {
		return nil, nil
	}
	sched := scheduler.New(logger)
	if err := sched.Add(ctx, "temp-sweep", schedule, sweeper.Job()); err != nil {
		return nil, err
	}
	return sched, nil
}

// services are the goroutines of a running daemon. Only the poll loop, an
// interrupt or SIGHUP end the group; the HTTP API is optional and its failure
// is reported without stopping the loop.
type services struct {
	loop     func(ctx context.Context) error
	sched    *scheduler.Scheduler
	listener net.Listener
	handler  http.Handler
	alerter  *alert.Alerter
	logger   *slog.Logger
}

func (s services) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(gctx) })

	if s.sched != nil {
		g.Go(func() error { return s.sched.Run(gctx) })
	}

	if s.listener != nil {
		g.Go(func() error {
			if err := httpapi.Serve(gctx, s.listener, s.handler, s.logger); err != nil {
				s.logger.Error("http api stopped", "error", err)
				s.alerter.Notify(gctx, fmt.Sprintf("otomed: http api stopped: %v", err))
			}
			return nil
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		select {
		case <-gctx.Done():
			return nil
		case <-hup:
			s.logger.Info("received SIGHUP, restarting")
			return errRestart
		}
	})

	return g.Wait()
}

// reexec replaces the process image with a fresh copy of itself.
func reexec(pidPath string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	// Clean up PID file before re-exec
	os.Remove(pidPath)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("re-exec: %w", err)
	}
	return nil
}
