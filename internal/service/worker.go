package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"todobot/internal/lock"
	"todobot/internal/notify"
	"todobot/internal/repository"
)

// reminderLockTTL bounds how long one worker owns a task's reminder slot.
// It only needs to cover one send attempt, not the job interval.
const reminderLockTTL = 30 * time.Second

// Worker bundles the periodic jobs the scheduler drives: reminder delivery,
// instance generation and calendar sync.
type Worker struct {
	tasks     *repository.TaskRepository
	users     *repository.UserRepository
	gen       *Generator
	sync      *SyncEngine
	summaries *SummaryService
	notifier  notify.Notifier
	locker    lock.Locker
	clock     Clock
	loc       *time.Location
	log       zerolog.Logger
}

func NewWorker(tasks *repository.TaskRepository, users *repository.UserRepository, gen *Generator, sync *SyncEngine, summaries *SummaryService, notifier notify.Notifier, locker lock.Locker, clock Clock, loc *time.Location, log zerolog.Logger) *Worker {
	return &Worker{
		tasks:     tasks,
		users:     users,
		gen:       gen,
		sync:      sync,
		summaries: summaries,
		notifier:  notifier,
		locker:    locker,
		clock:     clock,
		loc:       loc,
		log:       log,
	}
}

// CheckReminders sends the due-time notification for every pending task whose
// due time has passed. A per-task lock keeps concurrent worker instances from
// double-sending; losing the lock is a silent skip.
func (w *Worker) CheckReminders(ctx context.Context) {
	now := w.clock.Now().UTC()
	due, err := w.tasks.ListDueForReminder(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("reminder listing failed")
		return
	}
	for i := range due {
		task := &due[i]
		key := fmt.Sprintf("reminder:%d", task.ID)
		if err := w.locker.Acquire(ctx, key, reminderLockTTL); err != nil {
			if !errors.Is(err, lock.ErrNotAcquired) {
				w.log.Error().Err(err).Uint("task_id", task.ID).Msg("reminder lock failed")
			}
			continue
		}

		owner, err := w.users.FindByID(ctx, task.OwnerID)
		if err != nil {
			w.log.Error().Err(err).Uint("task_id", task.ID).Msg("reminder owner lookup failed")
			w.release(ctx, key)
			continue
		}
		if _, err := w.notifier.Send(ctx, owner.TelegramID, w.reminderText(task.Description, task.DueAt)); err != nil {
			w.log.Error().Err(err).Uint("task_id", task.ID).Msg("reminder send failed")
			w.release(ctx, key)
			continue
		}
		if err := w.tasks.MarkReminderSent(ctx, task.ID); err != nil {
			w.log.Error().Err(err).Uint("task_id", task.ID).Msg("reminder mark failed")
		}
		w.release(ctx, key)
	}
}

func (w *Worker) release(ctx context.Context, key string) {
	if err := w.locker.Release(ctx, key); err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("lock release failed")
	}
}

func (w *Worker) reminderText(description string, dueAt *time.Time) string {
	if dueAt == nil {
		return fmt.Sprintf("🔔 Reminder!\n\n%s", description)
	}
	at := dueAt.In(w.loc)
	today := w.clock.Now().In(w.loc)
	if at.Year() == today.Year() && at.YearDay() == today.YearDay() {
		return fmt.Sprintf("🔔 Reminder!\n\n%s\n\nDue today at %s", description, at.Format("15:04"))
	}
	return fmt.Sprintf("🔔 Reminder!\n\n%s\n\nDue %s", description, at.Format("Mon, 2 Jan at 15:04"))
}

// GenerateInstances is the midnight pass over all recurring patterns.
func (w *Worker) GenerateInstances(ctx context.Context) {
	n, err := w.gen.GenerateDueToday(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("instance generation pass failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("generated", n).Msg("instances generated")
	}
}

// SendDailySummaries delivers the morning overview to every account.
func (w *Worker) SendDailySummaries(ctx context.Context) {
	accounts, err := w.users.ListAll(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("summary account listing failed")
		return
	}
	now := w.clock.Now()
	for i := range accounts {
		account := accounts[i]
		text, err := w.summaries.DailySummary(ctx, account, now)
		if err != nil {
			w.log.Error().Err(err).Uint("user_id", account.ID).Msg("summary build failed")
			continue
		}
		if _, err := w.notifier.Send(ctx, account.TelegramID, text); err != nil {
			w.log.Error().Err(err).Uint("user_id", account.ID).Msg("summary send failed")
		}
	}
}

// SyncCalendars runs a sync pass for every calendar-enabled account. Accounts
// fail independently.
func (w *Worker) SyncCalendars(ctx context.Context) {
	if w.sync == nil {
		return
	}
	accounts, err := w.users.ListCalendarEnabled(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("calendar account listing failed")
		return
	}
	for i := range accounts {
		account := &accounts[i]
		res, err := w.sync.SyncAccount(ctx, account)
		if err != nil {
			w.log.Error().Err(err).Uint("user_id", account.ID).Msg("calendar sync failed")
			continue
		}
		if res.Created+res.Updated+res.Deleted+res.Pushed > 0 {
			w.log.Info().Uint("user_id", account.ID).
				Int("created", res.Created).Int("updated", res.Updated).
				Int("deleted", res.Deleted).Int("pushed", res.Pushed).
				Msg("calendar sync pass done")
		}
	}
}
