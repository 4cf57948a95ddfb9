// Package sweeper periodically removes expired upload slots.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every ten minutes.
const DefaultSchedule = "@every 10m"

// Purger removes expired upload slots and reports how many it removed
type Purger interface {
	PurgeExpiredSlots(ctx context.Context) (int64, error)
}

// Sweeper runs a Purger on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	cron    *cron.Cron
	purger  Purger
	timeout time.Duration
	logger  *slog.Logger
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a schedule New accepts
func ValidateSchedule(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// New schedules purger on spec. The sweeper does nothing until Start.
func New(purger Purger, spec string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &Sweeper{
		cron:    c,
		purger:  purger,
		timeout: time.Minute,
		logger:  logger.With(slog.String("component", "sweeper")),
	}
	if _, err := c.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Slot sweeper started")
}

// Stop halts the schedule and waits for a running sweep or ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.purger.PurgeExpiredSlots(ctx)
	if err != nil {
		s.logger.Error("Failed to purge expired upload slots", "error", err)
		return n, err
	}
	if n > 0 {
		s.logger.Info("Purged expired upload slots", "count", n)
	}
	return n, nil
}
