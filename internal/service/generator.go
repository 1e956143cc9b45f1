package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"todobot/internal/model"
	"todobot/internal/repository"
)

// Generator materializes recurring pattern occurrences into task instances.
type Generator struct {
	tasks *repository.TaskRepository
	clock Clock
	loc   *time.Location
	log   zerolog.Logger
}

func NewGenerator(tasks *repository.TaskRepository, clock Clock, loc *time.Location, log zerolog.Logger) *Generator {
	return &Generator{tasks: tasks, clock: clock, loc: loc, log: log}
}

// GenerateNext produces the pending instance for the pattern's current DueAt
// slot and advances the pattern to the following occurrence. Returns nil when
// the pattern is not eligible (inactive, exhausted, past its end date).
//
// The (pattern, dueAt) unique index is the arbiter against concurrent runs: a
// duplicate insert rolls the transaction back and the instance that won the
// slot is returned instead.
func (g *Generator) GenerateNext(ctx context.Context, pattern *model.Task) (*model.Task, error) {
	p, ok := pattern.Pattern()
	if !ok {
		return nil, &model.ValidationError{Field: "is_pattern", Reason: "task is not a recurrence pattern"}
	}
	now := g.clock.Now().UTC()
	if pattern.Status != model.StatusPending || pattern.DueAt == nil {
		return nil, nil
	}
	if pattern.InstanceCount >= p.MaxInstances {
		return nil, nil
	}
	if p.Recurrence.EndAt != nil && now.After(p.Recurrence.EndAt.UTC()) {
		return nil, nil
	}

	dueAt := pattern.DueAt.UTC()
	var result *model.Task
	err := g.tasks.Transaction(ctx, func(r *repository.TaskRepository) error {
		existing, err := r.FindInstanceBySlot(ctx, pattern.ID, dueAt)
		if err != nil {
			return err
		}
		if existing != nil {
			// Idempotent retry path: the slot was already generated, only the
			// pattern advance is (possibly) missing.
			g.advance(pattern, p)
			if err := r.Save(ctx, pattern); err != nil {
				return err
			}
			result = existing
			return nil
		}

		// A pattern keeps a single live pending instance; stale unfinished
		// occurrences are superseded, not accumulated.
		deleted, err := r.DeleteStalePending(ctx, pattern.ID, dueAt)
		if err != nil {
			return err
		}

		instance := &model.Task{
			OwnerID:         pattern.OwnerID,
			Description:     pattern.Description,
			Status:          model.StatusPending,
			DueAt:           &dueAt,
			ParentPatternID: &pattern.ID,
			LocalModifiedAt: now,
		}
		if err := r.Create(ctx, instance); err != nil {
			return err
		}

		count := pattern.InstanceCount - deleted
		if count < 0 {
			count = 0
		}
		pattern.InstanceCount = count + 1
		g.advance(pattern, p)
		if err := r.Save(ctx, pattern); err != nil {
			return err
		}
		result = instance
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, ferr := g.tasks.FindInstanceBySlot(ctx, pattern.ID, dueAt)
			if ferr != nil {
				return nil, fmt.Errorf("refetch instance after duplicate slot: %w", ferr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("generate instance for pattern %d: %w", pattern.ID, err)
	}
	return result, nil
}

func (g *Generator) advance(row *model.Task, p model.Pattern) {
	if next, ok := NextDue(p, g.loc); ok {
		row.DueAt = &next
		return
	}
	// Descriptor cannot produce a next occurrence; park the pattern so the
	// midnight pass stops considering it.
	row.DueAt = nil
	g.log.Warn().Uint("pattern_id", row.ID).Str("kind", string(p.Recurrence.Kind)).
		Msg("pattern has no next occurrence, generation parked")
}

// GenerateDueToday is the midnight pass: for every active pattern whose
// schedule elects today, materialize the occurrence with DueAt rebased onto
// today's date (same wall-clock time). Per-pattern failures are logged and do
// not stop the pass.
func (g *Generator) GenerateDueToday(ctx context.Context) (int, error) {
	patterns, err := g.tasks.ListActivePatterns(ctx)
	if err != nil {
		return 0, err
	}

	today := g.clock.Now().In(g.loc)
	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, g.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	generated := 0
	for i := range patterns {
		pattern := &patterns[i]
		p, ok := pattern.Pattern()
		if !ok || pattern.DueAt == nil {
			continue
		}

		due, err := g.shouldGenerateToday(ctx, p, today)
		if err != nil {
			g.log.Error().Err(err).Uint("pattern_id", pattern.ID).Msg("trigger policy check failed")
			continue
		}
		if !due {
			continue
		}

		exists, err := g.tasks.HasInstanceInWindow(ctx, pattern.ID, dayStart.UTC(), dayEnd.UTC())
		if err != nil {
			g.log.Error().Err(err).Uint("pattern_id", pattern.ID).Msg("instance window lookup failed")
			continue
		}
		if exists {
			continue
		}

		// Rebase the slot onto today's date, keeping the pattern's wall-clock
		// time; the stored row only changes if generation commits.
		orig := *pattern.DueAt
		at := orig.In(g.loc)
		rebased := time.Date(today.Year(), today.Month(), today.Day(),
			at.Hour(), at.Minute(), at.Second(), 0, g.loc).UTC()
		pattern.DueAt = &rebased

		instance, err := g.GenerateNext(ctx, pattern)
		if err != nil {
			pattern.DueAt = &orig
			g.log.Error().Err(err).Uint("pattern_id", pattern.ID).Msg("midnight generation failed")
			continue
		}
		if instance != nil {
			generated++
		}
	}
	return generated, nil
}

// shouldGenerateToday implements the daily trigger policy per recurrence kind.
func (g *Generator) shouldGenerateToday(ctx context.Context, p model.Pattern, today time.Time) (bool, error) {
	r := p.Recurrence.Normalized(p.Anchor.In(g.loc))
	switch r.Kind {
	case model.RecurMonthly:
		dim := daysInMonth(today.Year(), today.Month())
		// Last day of a short month stands in for any later target day.
		return today.Day() == r.DayOfMonth || (today.Day() == dim && r.DayOfMonth > dim), nil

	case model.RecurInterval:
		if !r.DaysOfWeek.Has(today.Weekday()) {
			return false, nil
		}
		last, err := g.tasks.LastInstanceDue(ctx, p.ID)
		if err != nil {
			return false, err
		}
		if last == nil {
			// Nothing generated yet: the anchor date is the baseline.
			return !startOfDay(today, g.loc).Before(startOfDay(p.Anchor.In(g.loc), g.loc)), nil
		}
		elapsed := calendarDaysBetween(last.In(g.loc), today, g.loc)
		return elapsed >= r.Interval, nil

	default:
		// daily, weekly and specific_days all reduce to a weekday set after
		// normalization.
		return r.DaysOfWeek.Has(today.Weekday()), nil
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func calendarDaysBetween(from, to time.Time, loc *time.Location) int {
	return int(startOfDay(to, loc).Sub(startOfDay(from, loc)).Hours() / 24)
}
