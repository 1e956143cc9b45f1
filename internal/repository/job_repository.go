package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"todobot/internal/model"
)

// JobRepository persists scheduler job run metadata.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Find(ctx context.Context, name string) (*model.SchedulerJob, error) {
	var job model.SchedulerJob
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job %q: %w", name, err)
	}
	return &job, nil
}

// RecordScheduled upserts the job's planned next trigger without touching the
// last run.
func (r *JobRepository) RecordScheduled(ctx context.Context, name string, next *time.Time) error {
	job := model.SchedulerJob{
		Name:      name,
		NextRunAt: next,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_run_at", "updated_at"}),
	}).Create(&job).Error
	if err != nil {
		return fmt.Errorf("record schedule of job %q: %w", name, err)
	}
	return nil
}

// RecordRun upserts the job row with the run that just happened and the next
// planned trigger.
func (r *JobRepository) RecordRun(ctx context.Context, name string, ranAt time.Time, next *time.Time) error {
	job := model.SchedulerJob{
		Name:      name,
		LastRunAt: &ranAt,
		NextRunAt: next,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run_at", "next_run_at", "updated_at"}),
	}).Create(&job).Error
	if err != nil {
		return fmt.Errorf("record run of job %q: %w", name, err)
	}
	return nil
}
