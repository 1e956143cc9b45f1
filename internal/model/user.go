package model

import "time"

// User stores the task owner account together with its calendar integration
// settings. Credential storage for the external calendar lives behind the
// calendar client, not here.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string

	// Calendar integration.
	CalendarEnabled bool `gorm:"default:false"`
	CalendarID      string
	// SyncColorID marks external events as task-like when their color matches.
	SyncColorID string
	// SyncHashtag additionally treats events with '#' in the title as task-like.
	SyncHashtag bool
	// LastCalendarSync is the watermark bounding the next sync fetch window.
	LastCalendarSync *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
