package service

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"todobot/internal/model"
	"todobot/internal/repository"
)

// fakeClock is a fixed, manually advanced Clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// A single shared in-memory connection; a second one would see an empty
	// schema.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.User{}, &model.Task{}, &model.SchedulerJob{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestTaskRepo(t *testing.T) *repository.TaskRepository {
	t.Helper()
	return repository.NewTaskRepository(newTestDB(t))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
