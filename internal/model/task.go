package model

import "time"

// Status of a task or a recurrence pattern.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// RecurrenceKind names a recurrence schedule family.
type RecurrenceKind string

const (
	RecurDaily        RecurrenceKind = "daily"
	RecurWeekly       RecurrenceKind = "weekly"
	RecurSpecificDays RecurrenceKind = "specific_days"
	RecurInterval     RecurrenceKind = "interval"
	RecurMonthly      RecurrenceKind = "monthly"
)

// DefaultMaxInstances caps how many instances a pattern may produce.
const DefaultMaxInstances = 100

// Task is the persisted shape for plain tasks, recurrence patterns and
// generated instances. The three roles share one relation; IsPattern and
// ParentPatternID distinguish them. For a pattern, DueAt always points at the
// next occurrence that has not been materialized yet.
type Task struct {
	ID          uint `gorm:"primaryKey"`
	OwnerID     uint `gorm:"index"`
	Description string
	Status      Status     `gorm:"default:pending;index"`
	DueAt       *time.Time `gorm:"uniqueIndex:uq_task_parent_due"`
	CompletedAt *time.Time
	// ReminderSent flips once the due-time notification went out; rescheduling
	// the task resets it.
	ReminderSent bool `gorm:"default:false"`

	// Recurrence descriptor, present only when IsPattern.
	IsPattern          bool `gorm:"default:false;index"`
	RecurrenceKind     RecurrenceKind
	RecurrenceInterval int
	DaysOfWeek         WeekdaySet `gorm:"type:text"`
	DayOfMonth         int
	EndAt              *time.Time
	InstanceCount      int `gorm:"default:0"`
	MaxInstances       int `gorm:"default:100"`
	// ParentPatternID links an instance back to its pattern. The composite
	// unique index with DueAt is the arbiter against duplicate generation.
	ParentPatternID *uint `gorm:"index;uniqueIndex:uq_task_parent_due"`

	// Calendar linkage.
	ExternalEventID        *string `gorm:"index"`
	ExternalEventUpdatedAt *time.Time
	LocalModifiedAt        time.Time
	OriginatedExternally   bool `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsInstance reports whether the row was generated from a pattern.
func (t *Task) IsInstance() bool { return t.ParentPatternID != nil }

// Recurrence is the typed descriptor carried by a pattern.
type Recurrence struct {
	Kind       RecurrenceKind
	Interval   int
	DaysOfWeek WeekdaySet
	DayOfMonth int
	EndAt      *time.Time
}

// Validate rejects descriptors the generator must never see.
func (r Recurrence) Validate() error {
	if r.Interval < 0 {
		return &ValidationError{Field: "interval", Reason: "must be a positive number of days"}
	}
	switch r.Kind {
	case RecurDaily, RecurWeekly, RecurInterval:
		return nil
	case RecurSpecificDays:
		if r.DaysOfWeek.IsEmpty() {
			return &ValidationError{Field: "days_of_week", Reason: "specific_days requires at least one weekday"}
		}
		return nil
	case RecurMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return &ValidationError{Field: "day_of_month", Reason: "monthly requires a day between 1 and 31"}
		}
		return nil
	default:
		return &ValidationError{Field: "recurrence_kind", Reason: "unknown recurrence kind"}
	}
}

// Normalized fills defaults used by the trigger policy: interval falls back to
// 1 and weekday-based kinds get an explicit weekday set (every day for daily
// and interval, the anchor's weekday for weekly).
func (r Recurrence) Normalized(anchor time.Time) Recurrence {
	out := r
	if out.Interval < 1 {
		out.Interval = 1
	}
	switch out.Kind {
	case RecurDaily, RecurInterval:
		if out.DaysOfWeek.IsEmpty() {
			out.DaysOfWeek = AllWeekdays
		}
	case RecurWeekly:
		if out.DaysOfWeek.IsEmpty() {
			out.DaysOfWeek = NewWeekdaySet(anchor.Weekday())
		}
	}
	return out
}

// Pattern is the typed in-memory view of a pattern row. Recurrence logic
// consumes this instead of poking at nullable Task columns; the single-table
// shape exists only at the storage boundary.
type Pattern struct {
	ID            uint
	OwnerID       uint
	Description   string
	Status        Status
	DueAt         *time.Time
	Recurrence    Recurrence
	InstanceCount int
	MaxInstances  int
	// Anchor is the creation time, the baseline for interval patterns before
	// any instance exists.
	Anchor time.Time
}

// Pattern extracts the typed view. ok is false for plain tasks and instances.
func (t *Task) Pattern() (Pattern, bool) {
	if !t.IsPattern {
		return Pattern{}, false
	}
	maxInstances := t.MaxInstances
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	return Pattern{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Description: t.Description,
		Status:      t.Status,
		DueAt:       t.DueAt,
		Recurrence: Recurrence{
			Kind:       t.RecurrenceKind,
			Interval:   t.RecurrenceInterval,
			DaysOfWeek: t.DaysOfWeek,
			DayOfMonth: t.DayOfMonth,
			EndAt:      t.EndAt,
		},
		InstanceCount: t.InstanceCount,
		MaxInstances:  maxInstances,
		Anchor:        t.CreatedAt,
	}, true
}
