package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"todobot/internal/model"
)

// TaskRepository handles persistence for tasks, patterns and instances.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Transaction runs fn inside a scoped transaction; fn gets a repository bound
// to the transaction handle. The unit of work commits when fn returns nil and
// rolls back otherwise.
func (r *TaskRepository) Transaction(ctx context.Context, fn func(*TaskRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&TaskRepository{db: tx})
	})
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("save task %d: %w", task.ID, err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, ownerID, taskID uint) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task %d: %w", taskID, err)
	}
	return &task, nil
}

// FindInstanceBySlot looks up the instance occupying a (pattern, dueAt) slot.
func (r *TaskRepository) FindInstanceBySlot(ctx context.Context, patternID uint, dueAt time.Time) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("parent_pattern_id = ? AND due_at = ?", patternID, dueAt).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find instance slot for pattern %d: %w", patternID, err)
	}
	return &task, nil
}

func (r *TaskRepository) FindByExternalEventID(ctx context.Context, ownerID uint, eventID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND external_event_id = ?", ownerID, eventID).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task by event %s: %w", eventID, err)
	}
	return &task, nil
}

// ListActivePatterns returns every pattern still eligible for generation.
func (r *TaskRepository) ListActivePatterns(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("is_pattern = ? AND status = ?", true, model.StatusPending).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}
	return tasks, nil
}

// DeleteStalePending removes pending instances of a pattern due before the
// given slot. Returns the number of superseded instances dropped.
func (r *TaskRepository) DeleteStalePending(ctx context.Context, patternID uint, before time.Time) (int, error) {
	res := r.db.WithContext(ctx).
		Where("parent_pattern_id = ? AND status = ? AND due_at < ?", patternID, model.StatusPending, before).
		Delete(&model.Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete stale instances of pattern %d: %w", patternID, res.Error)
	}
	return int(res.RowsAffected), nil
}

// HasInstanceInWindow reports whether the pattern already has an instance due
// inside [start, end).
func (r *TaskRepository) HasInstanceInWindow(ctx context.Context, patternID uint, start, end time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("parent_pattern_id = ? AND due_at >= ? AND due_at < ?", patternID, start, end).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count instances of pattern %d: %w", patternID, err)
	}
	return count > 0, nil
}

// LastInstanceDue returns the most recent instance due time, or nil when the
// pattern has produced nothing yet.
func (r *TaskRepository) LastInstanceDue(ctx context.Context, patternID uint) (*time.Time, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("parent_pattern_id = ?", patternID).
		Order("due_at DESC").
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last instance of pattern %d: %w", patternID, err)
	}
	return task.DueAt, nil
}

// ListPendingInstances returns the open instances of a pattern, optionally
// only those due at or after from.
func (r *TaskRepository) ListPendingInstances(ctx context.Context, patternID uint, from *time.Time) ([]model.Task, error) {
	q := r.db.WithContext(ctx).
		Where("parent_pattern_id = ? AND status = ?", patternID, model.StatusPending)
	if from != nil {
		q = q.Where("due_at >= ?", *from)
	}
	var tasks []model.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list pending instances of pattern %d: %w", patternID, err)
	}
	return tasks, nil
}

func (r *TaskRepository) Delete(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.Task{}, taskID).Error; err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}
	return nil
}

// ListDueForReminder returns pending non-pattern tasks whose due time has
// passed without a reminder going out.
func (r *TaskRepository) ListDueForReminder(ctx context.Context, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_pattern = ? AND reminder_sent = ? AND due_at IS NOT NULL AND due_at <= ?",
			model.StatusPending, false, false, now).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) MarkReminderSent(ctx context.Context, taskID uint) error {
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).
		Update("reminder_sent", true).Error
	if err != nil {
		return fmt.Errorf("mark reminder sent for task %d: %w", taskID, err)
	}
	return nil
}

// ListExternallyLinkedPending returns pending calendar-originated tasks still
// holding an external event link; absence of that event in a fresh fetch means
// the event was deleted externally.
func (r *TaskRepository) ListExternallyLinkedPending(ctx context.Context, ownerID uint) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND originated_externally = ? AND external_event_id IS NOT NULL",
			ownerID, model.StatusPending, true).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list linked pending tasks: %w", err)
	}
	return tasks, nil
}

// ListRecentCompletedLinked returns recently completed tasks with an external
// event, newest first, bounded so the sync pass never touches old history.
func (r *TaskRepository) ListRecentCompletedLinked(ctx context.Context, ownerID uint, since time.Time, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND external_event_id IS NOT NULL AND completed_at >= ?",
			ownerID, model.StatusCompleted, since).
		Order("completed_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list recent completed tasks: %w", err)
	}
	return tasks, nil
}

// ListUnlinkedUpcoming returns locally created pending tasks due inside the
// window that have no calendar event yet.
func (r *TaskRepository) ListUnlinkedUpcoming(ctx context.Context, ownerID uint, from, to time.Time, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND is_pattern = ? AND originated_externally = ?", ownerID, model.StatusPending, false, false).
		Where("external_event_id IS NULL AND due_at >= ? AND due_at <= ?", from, to).
		Order("due_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list unlinked upcoming tasks: %w", err)
	}
	return tasks, nil
}

// ListOpenByOwner returns an owner's pending non-pattern tasks.
func (r *TaskRepository) ListOpenByOwner(ctx context.Context, ownerID uint) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND is_pattern = ?", ownerID, model.StatusPending, false).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	return tasks, nil
}

// ListActivePatternsByOwner returns an owner's patterns still generating.
func (r *TaskRepository) ListActivePatternsByOwner(ctx context.Context, ownerID uint) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_pattern = ? AND status = ?", ownerID, true, model.StatusPending).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return tasks, nil
}

// TaskStats aggregates per-owner task counters.
type TaskStats struct {
	Total     int64
	Pending   int64
	Completed int64
	DueToday  int64
	Overdue   int64
}

// Stats counts an owner's non-pattern tasks by state. todayStart/todayEnd
// bound the local calendar day in UTC.
func (r *TaskRepository) Stats(ctx context.Context, ownerID uint, now, todayStart, todayEnd time.Time) (TaskStats, error) {
	var stats TaskStats
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&model.Task{}).
			Where("owner_id = ? AND is_pattern = ?", ownerID, false)
	}
	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, fmt.Errorf("count tasks: %w", err)
	}
	if err := base().Where("status = ?", model.StatusPending).Count(&stats.Pending).Error; err != nil {
		return stats, fmt.Errorf("count pending tasks: %w", err)
	}
	if err := base().Where("status = ?", model.StatusCompleted).Count(&stats.Completed).Error; err != nil {
		return stats, fmt.Errorf("count completed tasks: %w", err)
	}
	if err := base().Where("status = ? AND due_at >= ? AND due_at < ?", model.StatusPending, todayStart, todayEnd).
		Count(&stats.DueToday).Error; err != nil {
		return stats, fmt.Errorf("count due-today tasks: %w", err)
	}
	if err := base().Where("status = ? AND due_at < ?", model.StatusPending, now).
		Count(&stats.Overdue).Error; err != nil {
		return stats, fmt.Errorf("count overdue tasks: %w", err)
	}
	return stats, nil
}
