/*
scheduler.go - Cron-driven sweep scheduler

PURPOSE:
  Runs the reassignment, reminder and won-bid sweeps on cron schedules.
  Each tick is a single RunSweep invocation; the sweeps themselves hold no
  timers, so a missed tick is caught up by the next one.

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow sweep never overlaps itself
  - Recover: a panicking sweep is logged, the scheduler keeps going
  - Every run has its own timeout context
  - The last run per sweep is kept for GET-style inspection and tests

CONFIGURATION:
  Specs come from config ([sweeps] section). An empty spec disables that
  sweep. Standard 5-field specs and descriptors like "@every 15m" work.

USAGE:
  s, err := NewSweepScheduler(engine, specs, log)
  go s.Run(ctx) // blocks until ctx is done

SEE ALSO:
  - leads/sweeper.go: RunSweep and the reassignment sweep
  - leads/reminders.go: Reminder and follow-up sweeps
*/
package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/leadflow/lead-engine/leads"
)

const defaultSweepTimeout = 5 * time.Minute

// SweepRun records one scheduled sweep invocation.
type SweepRun struct {
	Sweep    string            `json:"sweep"`
	Started  time.Time         `json:"started"`
	Duration time.Duration     `json:"duration"`
	Result   leads.SweepResult `json:"result"`
	Error    string            `json:"error,omitempty"`
}

// SweepScheduler runs engine sweeps on cron specs.
type SweepScheduler struct {
	engine  *leads.Engine
	log     zerolog.Logger
	c       *cron.Cron
	timeout time.Duration

	mu   sync.Mutex
	last map[string]SweepRun
}

// NewSweepScheduler registers one cron entry per non-empty spec. specs is
// keyed by sweep name (leads.SweepNames).
func NewSweepScheduler(engine *leads.Engine, specs map[string]string, log zerolog.Logger) (*SweepScheduler, error) {
	cl := cronLogger{log: log}
	s := &SweepScheduler{
		engine:  engine,
		log:     log,
		timeout: defaultSweepTimeout,
		last:    make(map[string]SweepRun),
		c: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := specs[name]
		if spec == "" {
			log.Info().Str("sweep", name).Msg("sweep disabled")
			continue
		}
		if !knownSweep(name) {
			return nil, fmt.Errorf("unknown sweep %q", name)
		}
		if _, err := s.c.AddFunc(spec, func() { s.RunOnce(context.Background(), name) }); err != nil {
			return nil, fmt.Errorf("sweep %s: bad schedule %q: %w", name, spec, err)
		}
		log.Info().Str("sweep", name).Str("spec", spec).Msg("sweep scheduled")
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running sweeps to finish.
func (s *SweepScheduler) Run(ctx context.Context) error {
	s.c.Start()
	s.log.Info().Int("entries", len(s.c.Entries())).Msg("scheduler started")
	<-ctx.Done()
	<-s.c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// RunOnce runs a sweep now under the scheduler's timeout and records it.
func (s *SweepScheduler) RunOnce(ctx context.Context, name string) SweepRun {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	run := SweepRun{Sweep: name, Started: time.Now()}
	res, err := s.engine.RunSweep(ctx, name)
	run.Duration = time.Since(run.Started)
	run.Result = res
	if err != nil {
		run.Error = err.Error()
		s.log.Error().Err(err).Str("sweep", name).Msg("sweep failed")
	}

	s.mu.Lock()
	s.last[name] = run
	s.mu.Unlock()
	return run
}

// LastRun returns the most recent run of a sweep, if any.
func (s *SweepScheduler) LastRun(name string) (SweepRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.last[name]
	return run, ok
}

func knownSweep(name string) bool {
	for _, n := range leads.SweepNames {
		if n == name {
			return true
		}
	}
	return false
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
