// Package calendar defines the contract against the external calendar.
// Concrete providers (Google, CalDAV, ...) live outside this module; the sync
// engine only depends on this interface.
package calendar

import (
	"context"
	"time"

	"todobot/internal/model"
)

// Event statuses and transparency values the sync engine reacts to.
const (
	StatusCancelled         = "cancelled"
	TransparencyTransparent = "transparent"
)

// Event is one externally stored calendar entry.
type Event struct {
	ID           string
	Title        string
	Start        time.Time
	End          time.Time
	UpdatedAt    time.Time
	Status       string
	Transparency string
	ColorID      string
}

// Done reports whether the external side considers the event finished.
func (e Event) Done() bool {
	return e.Status == StatusCancelled || e.Transparency == TransparencyTransparent
}

// EventSpec carries the fields pushed on create or update.
type EventSpec struct {
	ID      string // empty on create
	Title   string
	Start   time.Time
	End     time.Time
	ColorID string
}

// Client is the abstract calendar collaborator. All calls must be idempotent
// under retry and bounded in time by the passed context.
type Client interface {
	// FetchEvents returns events in [start, end). With includeAll false,
	// implementations may pre-filter to task-like events only.
	FetchEvents(ctx context.Context, account *model.User, start, end time.Time, includeAll bool) ([]Event, error)
	CreateEvent(ctx context.Context, account *model.User, spec EventSpec) (string, error)
	UpdateEvent(ctx context.Context, account *model.User, spec EventSpec) error
	DeleteEvent(ctx context.Context, account *model.User, eventID string) error
}
