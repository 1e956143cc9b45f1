package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"todobot/internal/model"
	"todobot/internal/repository"
)

func newTestJobRepo(t *testing.T) *repository.JobRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.SchedulerJob{}))
	return repository.NewJobRepository(db)
}

func TestBuildDailySpec(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "00:00", want: "0 0 0 * * *"},
		{input: "09:30", want: "0 30 9 * * *"},
		{input: "23:59", want: "0 59 23 * * *"},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "noon", wantErr: true},
		{input: "9", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := buildDailySpec(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleRejectsDuplicatesAndBadInput(t *testing.T) {
	s := New(time.UTC, newTestJobRepo(t), time.Minute, zerolog.Nop())

	require.NoError(t, s.ScheduleInterval("job", time.Minute, func(context.Context) {}))
	assert.Error(t, s.ScheduleInterval("job", time.Minute, func(context.Context) {}))
	assert.Error(t, s.ScheduleInterval("other", 0, func(context.Context) {}))
	assert.Error(t, s.ScheduleDaily("daily", "25:00", func(context.Context) {}))
}

func TestCatchUpRunsMissedJob(t *testing.T) {
	ctx := context.Background()
	jobs := newTestJobRepo(t)
	s := New(time.UTC, jobs, time.Minute, zerolog.Nop())

	ran := 0
	require.NoError(t, s.ScheduleDaily("nightly", "03:00", func(context.Context) { ran++ }))

	// The stored next trigger is in the past: the process slept through it.
	missed := time.Now().UTC().Add(-2 * time.Hour)
	lastRun := missed.Add(-24 * time.Hour)
	require.NoError(t, jobs.RecordRun(ctx, "nightly", lastRun, &missed))

	s.CatchUp(ctx)
	assert.Equal(t, 1, ran)

	// The catch-up run is recorded and the stale trigger cleared, so a second
	// catch-up does nothing.
	row, err := jobs.Find(ctx, "nightly")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NotNil(t, row.LastRunAt)
	assert.True(t, row.LastRunAt.After(lastRun))

	s.CatchUp(ctx)
	assert.Equal(t, 1, ran)
}

func TestCatchUpSkipsFreshAndUnknownJobs(t *testing.T) {
	ctx := context.Background()
	jobs := newTestJobRepo(t)
	s := New(time.UTC, jobs, time.Minute, zerolog.Nop())

	ran := 0
	require.NoError(t, s.ScheduleInterval("fresh", time.Hour, func(context.Context) { ran++ }))
	require.NoError(t, s.ScheduleInterval("new", time.Hour, func(context.Context) { ran++ }))

	future := time.Now().UTC().Add(time.Hour)
	now := time.Now().UTC()
	require.NoError(t, jobs.RecordRun(ctx, "fresh", now, &future))
	// "new" has no stored row at all.

	s.CatchUp(ctx)
	assert.Equal(t, 0, ran)
}

func TestStartRecordsInitialTrigger(t *testing.T) {
	ctx := context.Background()
	jobs := newTestJobRepo(t)
	s := New(time.UTC, jobs, time.Minute, zerolog.Nop())

	require.NoError(t, s.ScheduleDaily("nightly", "03:00", func(context.Context) {}))
	require.NoError(t, s.ScheduleInterval("hourly", time.Hour, func(context.Context) {}))

	// "hourly" already has a run on record; Start must keep it.
	earlier := time.Now().UTC().Add(-30 * time.Minute)
	next := earlier.Add(time.Hour)
	require.NoError(t, jobs.RecordRun(ctx, "hourly", earlier, &next))

	s.Start()
	defer s.Stop()

	// A job that has never fired gets its first planned trigger persisted, so a
	// restart before that trigger can still catch it up.
	row, err := jobs.Find(ctx, "nightly")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row.LastRunAt)
	require.NotNil(t, row.NextRunAt)
	assert.True(t, row.NextRunAt.After(time.Now().UTC().Add(-time.Minute)))

	row, err = jobs.Find(ctx, "hourly")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NotNil(t, row.LastRunAt)
	assert.True(t, row.LastRunAt.Equal(earlier))
}

func TestRunRecordsNextTrigger(t *testing.T) {
	ctx := context.Background()
	jobs := newTestJobRepo(t)
	s := New(time.UTC, jobs, time.Minute, zerolog.Nop())

	done := make(chan struct{})
	require.NoError(t, s.ScheduleInterval("tick", time.Second, func(context.Context) {
		select {
		case done <- struct{}{}:
		default:
		}
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}

	// The run record lands right after the job body returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		row, err := jobs.Find(ctx, "tick")
		require.NoError(t, err)
		if row != nil && row.LastRunAt != nil {
			require.NotNil(t, row.NextRunAt)
			assert.True(t, row.NextRunAt.After(*row.LastRunAt))
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run was never recorded")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
