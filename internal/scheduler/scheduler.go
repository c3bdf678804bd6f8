// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a maintenance callback run on a cron schedule.
type Job func(ctx context.Context)

// Scheduler runs maintenance jobs on cron expressions. It never touches the
// polling cursor.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates an idle scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithParser(cronParser)),
		logger: logger,
	}
}

// Add registers job under a cron schedule. The job receives ctx, so it must be the
// context the scheduler runs under.
func (s *Scheduler) Add(ctx context.Context, name, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug("cron firing job", "name", name)
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", schedule, name, err)
	}
	s.logger.Info("scheduled job", "name", name, "schedule", schedule)
	return nil
}

// Run starts the cron ticker and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Sweeper removes generated images that outlived their upload, e.g. after the
// process was interrupted mid-generation.
type Sweeper struct {
	Dir    string
	Prefix string
	Suffix string
	MaxAge time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Sweep deletes matching files older than MaxAge and returns how many it removed.
func (w *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	logger := w.log()
	cutoff := now().Add(-w.MaxAge)

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, w.Prefix) || !strings.HasSuffix(name, w.Suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.Dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove stale temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("swept stale temp files", "dir", w.Dir, "removed", removed)
	}
	return removed, nil
}

// Job adapts Sweep to the scheduler.
func (w *Sweeper) Job() Job {
	return func(context.Context) {
		if _, err := w.Sweep(); err != nil {
			w.log().Warn("temp sweep failed", "error", err)
		}
	}
}

func (w *Sweeper) log() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
