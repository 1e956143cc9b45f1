// Package scheduler runs the periodic jobs on cron-style triggers with
// durable run records, so missed triggers are caught up after a restart.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"todobot/internal/repository"
)

// Scheduler wraps cron-based jobs. Each registered job is coalescing: a
// trigger that fires while the previous run is still going is skipped, not
// queued.
type Scheduler struct {
	cron       *cron.Cron
	jobs       *repository.JobRepository
	jobTimeout time.Duration
	log        zerolog.Logger

	entries map[string]cron.EntryID
	funcs   map[string]func(context.Context)
}

func New(loc *time.Location, jobs *repository.JobRepository, jobTimeout time.Duration, log zerolog.Logger) *Scheduler {
	cl := &cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:       jobs,
		jobTimeout: jobTimeout,
		log:        log,
		entries:    make(map[string]cron.EntryID),
		funcs:      make(map[string]func(context.Context)),
	}
}

// ScheduleDaily registers a named daily job at the given HH:MM time string.
func (s *Scheduler) ScheduleDaily(name, timeStr string, job func(context.Context)) error {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return err
	}
	return s.schedule(name, spec, job)
}

// ScheduleInterval registers a named periodic job every given duration.
func (s *Scheduler) ScheduleInterval(name string, interval time.Duration, job func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return s.schedule(name, fmt.Sprintf("@every %ds", seconds), job)
}

func (s *Scheduler) schedule(name, spec string, job func(context.Context)) error {
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", name, err)
	}
	s.entries[name] = id
	s.funcs[name] = job
	return nil
}

// run executes one trigger and records it together with the next planned one.
func (s *Scheduler) run(name string, job func(context.Context)) {
	ctx := context.Background()
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	started := time.Now().UTC()
	job(ctx)

	var next *time.Time
	if id, ok := s.entries[name]; ok {
		if n := s.cron.Entry(id).Next; !n.IsZero() {
			u := n.UTC()
			next = &u
		}
	}
	if err := s.jobs.RecordRun(context.Background(), name, started, next); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("job run record failed")
	}
}

// CatchUp runs, before the cron loop starts, every registered job whose stored
// next trigger was missed while the process was down. Jobs with no stored row
// are left to their first regular trigger.
func (s *Scheduler) CatchUp(ctx context.Context) {
	now := time.Now().UTC()
	for name, job := range s.funcs {
		row, err := s.jobs.Find(ctx, name)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job row lookup failed")
			continue
		}
		if row == nil || row.NextRunAt == nil || row.NextRunAt.After(now) {
			continue
		}
		s.log.Info().Str("job", name).Time("missed", *row.NextRunAt).Msg("catching up missed job run")
		s.run(name, job)
	}
}

// Start begins triggering and records each job's first planned trigger, so a
// job that never fires before the next restart still has a trigger to catch
// up from.
func (s *Scheduler) Start() {
	s.cron.Start()
	for name, id := range s.entries {
		var next *time.Time
		if n := s.cron.Entry(id).Next; !n.IsZero() {
			u := n.UTC()
			next = &u
		}
		if err := s.jobs.RecordScheduled(context.Background(), name, next); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job schedule record failed")
		}
	}
}

// Stop halts triggering and waits for in-flight jobs to drain.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

// cronLogger adapts zerolog to the cron.Logger contract.
type cronLogger struct {
	log zerolog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.event(l.log.Debug(), keysAndValues).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.event(l.log.Error().Err(err), keysAndValues).Msg(msg)
}

func (l *cronLogger) event(e *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}
