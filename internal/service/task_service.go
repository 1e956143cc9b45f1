package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"todobot/internal/model"
	"todobot/internal/repository"
)

const maxDescriptionLen = 500

// PatternInput describes a new recurring series.
type PatternInput struct {
	Description string
	DueAt       time.Time
	Kind        model.RecurrenceKind
	Interval    int
	DaysOfWeek  model.WeekdaySet
	DayOfMonth  int
	EndAt       *time.Time
}

// TaskService wraps task and series business logic. Failures a task owner can
// act on come back as (ok, message) results; only infrastructure failures are
// errors.
type TaskService struct {
	tasks *repository.TaskRepository
	gen   *Generator
	clock Clock
	loc   *time.Location
	log   zerolog.Logger
}

func NewTaskService(tasks *repository.TaskRepository, gen *Generator, clock Clock, loc *time.Location, log zerolog.Logger) *TaskService {
	return &TaskService{tasks: tasks, gen: gen, clock: clock, loc: loc, log: log}
}

// CreateTask adds a plain one-shot task.
func (s *TaskService) CreateTask(ctx context.Context, ownerID uint, description string, dueAt *time.Time) (*model.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, &model.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	description = clampRunes(description, maxDescriptionLen)
	task := &model.Task{
		OwnerID:         ownerID,
		Description:     description,
		Status:          model.StatusPending,
		DueAt:           dueAt,
		LocalModifiedAt: s.clock.Now().UTC(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// CreatePattern adds a recurring series. When the initial due time falls on
// today or earlier, the first instance is materialized immediately instead of
// waiting for the next midnight pass.
func (s *TaskService) CreatePattern(ctx context.Context, ownerID uint, in PatternInput) (*model.Task, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, &model.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	description = clampRunes(description, maxDescriptionLen)
	recur := model.Recurrence{
		Kind:       in.Kind,
		Interval:   in.Interval,
		DaysOfWeek: in.DaysOfWeek,
		DayOfMonth: in.DayOfMonth,
		EndAt:      in.EndAt,
	}
	if err := recur.Validate(); err != nil {
		return nil, err
	}
	recur = recur.Normalized(in.DueAt.In(s.loc))

	now := s.clock.Now().UTC()
	dueAt := in.DueAt.UTC()
	pattern := &model.Task{
		OwnerID:            ownerID,
		Description:        description,
		Status:             model.StatusPending,
		DueAt:              &dueAt,
		IsPattern:          true,
		RecurrenceKind:     recur.Kind,
		RecurrenceInterval: recur.Interval,
		DaysOfWeek:         recur.DaysOfWeek,
		DayOfMonth:         recur.DayOfMonth,
		EndAt:              recur.EndAt,
		MaxInstances:       model.DefaultMaxInstances,
		LocalModifiedAt:    now,
	}
	if err := s.tasks.Create(ctx, pattern); err != nil {
		return nil, err
	}

	endOfToday := startOfDay(s.clock.Now().In(s.loc), s.loc).AddDate(0, 0, 1)
	if dueAt.Before(endOfToday.UTC()) {
		if _, err := s.gen.GenerateNext(ctx, pattern); err != nil {
			// The series exists; the midnight pass will retry the occurrence.
			s.log.Error().Err(err).Uint("pattern_id", pattern.ID).Msg("immediate generation failed")
		}
	}
	return pattern, nil
}

// GenerateNextInstance exposes the generator to collaborators.
func (s *TaskService) GenerateNextInstance(ctx context.Context, pattern *model.Task) (*model.Task, error) {
	return s.gen.GenerateNext(ctx, pattern)
}

// CompleteTask marks a single task or instance as done.
func (s *TaskService) CompleteTask(ctx context.Context, ownerID, taskID uint) (bool, string) {
	task, err := s.tasks.FindByID(ctx, ownerID, taskID)
	if err != nil {
		s.log.Error().Err(err).Uint("task_id", taskID).Msg("complete task lookup failed")
		return false, "Something went wrong, please try again."
	}
	if task == nil {
		return false, "Task not found."
	}
	if task.IsPattern {
		return false, "This is a recurring series; complete one of its occurrences or stop the series."
	}
	if task.Status == model.StatusCompleted {
		return false, "Task is already completed."
	}
	now := s.clock.Now().UTC()
	task.Status = model.StatusCompleted
	task.CompletedAt = &now
	task.LocalModifiedAt = now
	if err := s.tasks.Save(ctx, task); err != nil {
		s.log.Error().Err(err).Uint("task_id", taskID).Msg("complete task save failed")
		return false, "Something went wrong, please try again."
	}
	return true, fmt.Sprintf("Task completed: %s", truncate(task.Description, 50))
}

// UpdateTask edits description and/or due time. Changing the due time rearms
// the reminder.
func (s *TaskService) UpdateTask(ctx context.Context, ownerID, taskID uint, newDescription *string, newDueAt *time.Time) (bool, string) {
	task, err := s.tasks.FindByID(ctx, ownerID, taskID)
	if err != nil {
		s.log.Error().Err(err).Uint("task_id", taskID).Msg("update task lookup failed")
		return false, "Something went wrong, please try again."
	}
	if task == nil {
		return false, "Task not found."
	}
	if task.Status == model.StatusCompleted {
		return false, "Completed tasks cannot be updated."
	}
	changed := false
	if newDescription != nil {
		desc := strings.TrimSpace(*newDescription)
		if desc == "" {
			return false, "Description must not be empty."
		}
		desc = clampRunes(desc, maxDescriptionLen)
		if desc != task.Description {
			task.Description = desc
			changed = true
		}
	}
	if newDueAt != nil {
		due := newDueAt.UTC()
		task.DueAt = &due
		task.ReminderSent = false
		changed = true
	}
	if !changed {
		return false, "Nothing to update."
	}
	task.LocalModifiedAt = s.clock.Now().UTC()
	if err := s.tasks.Save(ctx, task); err != nil {
		s.log.Error().Err(err).Uint("task_id", taskID).Msg("update task save failed")
		return false, "Something went wrong, please try again."
	}
	return true, fmt.Sprintf("Task #%d updated.", task.ID)
}

// DeleteTask removes a single task or instance.
func (s *TaskService) DeleteTask(ctx context.Context, ownerID, taskID uint) (bool, string) {
	task, err := s.tasks.FindByID(ctx, ownerID, taskID)
	if err != nil {
		s.log.Error().Err(err).Uint("task_id", taskID).Msg("delete task lookup failed")
		return false, "Something went wrong, please try again."
	}
	if task == nil {
		return false, "Task not found."
	}
	if task.IsPattern {
		return false, "This is a recurring series; use the stop command instead."
	}
	if err := s.tasks.Delete(ctx, task.ID); err != nil {
		s.log.Error().Err(err).Uint("task_id", taskID).Msg("delete task failed")
		return false, "Something went wrong, please try again."
	}
	return true, fmt.Sprintf("Task deleted: %s", truncate(task.Description, 50))
}

// StopSeries cancels a recurring series. With deleteFuture, pending instances
// due from now on are removed too; completed instances are never touched.
func (s *TaskService) StopSeries(ctx context.Context, patternID, ownerID uint, deleteFuture bool) (bool, string) {
	pattern, err := s.tasks.FindByID(ctx, ownerID, patternID)
	if err != nil {
		s.log.Error().Err(err).Uint("pattern_id", patternID).Msg("stop series lookup failed")
		return false, "Something went wrong, please try again."
	}
	if pattern == nil || !pattern.IsPattern {
		return false, "Recurring series not found."
	}
	if pattern.Status == model.StatusCancelled {
		return false, "Series is already stopped."
	}

	now := s.clock.Now().UTC()
	removed := 0
	err = s.tasks.Transaction(ctx, func(r *repository.TaskRepository) error {
		pattern.Status = model.StatusCancelled
		pattern.LocalModifiedAt = now
		if err := r.Save(ctx, pattern); err != nil {
			return err
		}
		if !deleteFuture {
			return nil
		}
		instances, err := r.ListPendingInstances(ctx, pattern.ID, &now)
		if err != nil {
			return err
		}
		for _, instance := range instances {
			if err := r.Delete(ctx, instance.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Uint("pattern_id", patternID).Msg("stop series failed")
		return false, "Something went wrong, please try again."
	}
	if removed > 0 {
		return true, fmt.Sprintf("Series stopped, %d upcoming occurrence(s) removed.", removed)
	}
	return true, "Series stopped."
}

// CompleteSeries closes a recurring series and marks its open occurrences as
// done. The pattern itself never records a completion time.
func (s *TaskService) CompleteSeries(ctx context.Context, patternID, ownerID uint) (bool, string) {
	pattern, err := s.tasks.FindByID(ctx, ownerID, patternID)
	if err != nil {
		s.log.Error().Err(err).Uint("pattern_id", patternID).Msg("complete series lookup failed")
		return false, "Something went wrong, please try again."
	}
	if pattern == nil || !pattern.IsPattern {
		return false, "Recurring series not found."
	}
	if pattern.Status == model.StatusCompleted {
		return false, "Series is already completed."
	}

	now := s.clock.Now().UTC()
	err = s.tasks.Transaction(ctx, func(r *repository.TaskRepository) error {
		pattern.Status = model.StatusCompleted
		pattern.LocalModifiedAt = now
		if err := r.Save(ctx, pattern); err != nil {
			return err
		}
		instances, err := r.ListPendingInstances(ctx, pattern.ID, nil)
		if err != nil {
			return err
		}
		for i := range instances {
			instance := &instances[i]
			instance.Status = model.StatusCompleted
			instance.CompletedAt = &now
			instance.LocalModifiedAt = now
			if err := r.Save(ctx, instance); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Uint("pattern_id", patternID).Msg("complete series failed")
		return false, "Something went wrong, please try again."
	}
	return true, fmt.Sprintf("Series completed: %s", truncate(pattern.Description, 50))
}

// Stats aggregates an owner's task counters for the current local day.
func (s *TaskService) Stats(ctx context.Context, ownerID uint) (repository.TaskStats, error) {
	now := s.clock.Now()
	dayStart := startOfDay(now.In(s.loc), s.loc)
	return s.tasks.Stats(ctx, ownerID, now.UTC(), dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC())
}

// clampRunes shortens s to at most n runes, never splitting a multi-byte
// character.
func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return clampRunes(s, n) + "..."
}
