package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"todobot/internal/config"
	"todobot/internal/lock"
	"todobot/internal/notify"
	"todobot/internal/repository"
	"todobot/internal/scheduler"
	"todobot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	jobRepo := repository.NewJobRepository(db)

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		locker = lock.NewRedisLocker(lock.NewRedisClient(cfg.RedisAddr))
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-process locks")
		locker = lock.NewMemoryLocker()
	}

	notifier, err := notify.NewTelegram(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram")
	}

	clock := service.SystemClock{}
	loc := cfg.Timezone

	gen := service.NewGenerator(taskRepo, clock, loc, log)

	// The calendar provider is deployment-specific; without one, sync jobs are
	// simply not scheduled.
	var syncEngine *service.SyncEngine
	if calClient := newCalendarClient(log); calClient != nil {
		syncEngine = service.NewSyncEngine(taskRepo, userRepo, calClient, clock, loc, log)
	}

	summaries := service.NewSummaryService(taskRepo, loc)
	worker := service.NewWorker(taskRepo, userRepo, gen, syncEngine, summaries, notifier, locker, clock, loc, log)

	sched := scheduler.New(loc, jobRepo, cfg.JobTimeout, log)
	if err := sched.ScheduleInterval("reminders", cfg.ReminderInterval, worker.CheckReminders); err != nil {
		log.Fatal().Err(err).Msg("schedule reminders")
	}
	if err := sched.ScheduleDaily("generate-instances", cfg.MidnightTime, worker.GenerateInstances); err != nil {
		log.Fatal().Err(err).Msg("schedule instance generation")
	}
	if err := sched.ScheduleDaily("daily-summaries", cfg.SummaryTime, worker.SendDailySummaries); err != nil {
		log.Fatal().Err(err).Msg("schedule daily summaries")
	}
	if syncEngine != nil {
		if err := sched.ScheduleInterval("calendar-sync", cfg.SyncInterval, worker.SyncCalendars); err != nil {
			log.Fatal().Err(err).Msg("schedule calendar sync")
		}
	}

	sched.CatchUp(ctx)
	sched.Start()
	defer sched.Stop()

	log.Info().Msg("todobot started")
	<-ctx.Done()
	log.Info().Msg("shutdown complete")
}
