package model

import "time"

// SchedulerJob keeps durable run metadata per background job, so missed runs
// survive process restarts and can be caught up instead of silently lost.
type SchedulerJob struct {
	Name      string `gorm:"primaryKey"`
	LastRunAt *time.Time
	NextRunAt *time.Time
	UpdatedAt time.Time
}
