package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"todobot/internal/calendar"
	"todobot/internal/model"
	"todobot/internal/repository"
	"todobot/pkg/retry"
)

const (
	// syncOverlap is re-fetched before the watermark so edits racing a previous
	// pass are not lost.
	syncOverlap = time.Hour
	// firstSyncLookback bounds the initial fetch for a fresh account.
	firstSyncLookback = 7 * 24 * time.Hour
	// syncHorizon bounds how far ahead the fetch window reaches.
	syncHorizon = 30 * 24 * time.Hour

	// completedColorID marks verified-complete events on the external side.
	completedColorID = "8"
	completedPrefix  = "✅ "

	verifyCompletedWindow = time.Hour
	verifyCompletedLimit  = 10
	pushUnlinkedLimit     = 20
)

// SyncResult summarizes one account pass.
type SyncResult struct {
	Created int
	Updated int
	Deleted int
	Pushed  int
}

// SyncEngine mirrors task state against an external calendar account. One
// SyncAccount call is one full pass: fetch, reconcile, detect deletions, push
// unlinked tasks, verify completions. Item-level failures are logged and
// skipped; only pass-level failures (fetch, listing) abort and leave the
// watermark where it was.
type SyncEngine struct {
	tasks *repository.TaskRepository
	users *repository.UserRepository
	cal   calendar.Client
	clock Clock
	loc   *time.Location
	log   zerolog.Logger
}

func NewSyncEngine(tasks *repository.TaskRepository, users *repository.UserRepository, cal calendar.Client, clock Clock, loc *time.Location, log zerolog.Logger) *SyncEngine {
	return &SyncEngine{tasks: tasks, users: users, cal: cal, clock: clock, loc: loc, log: log}
}

// SyncAccount runs a full sync pass for one account.
func (s *SyncEngine) SyncAccount(ctx context.Context, account *model.User) (SyncResult, error) {
	var res SyncResult
	if !account.CalendarEnabled {
		return res, nil
	}
	now := s.clock.Now().UTC()

	start := now.Add(-firstSyncLookback)
	if account.LastCalendarSync != nil {
		start = account.LastCalendarSync.UTC().Add(-syncOverlap)
	}
	end := now.Add(syncHorizon)

	var events []calendar.Event
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		RetryIf:     calendar.IsTransient,
		OnRetry: func(attempt int, err error) {
			s.log.Warn().Err(err).Int("attempt", attempt).Uint("user_id", account.ID).
				Msg("calendar fetch retry")
		},
	}, func() error {
		var ferr error
		events, ferr = s.cal.FetchEvents(ctx, account, start, end, true)
		return ferr
	})
	if err != nil {
		return res, fmt.Errorf("fetch events for user %d: %w", account.ID, err)
	}

	fetched := make(map[string]struct{}, len(events))
	for _, ev := range events {
		fetched[ev.ID] = struct{}{}
		if !s.isTaskEvent(account, ev) {
			continue
		}
		created, updated, err := s.reconcileEvent(ctx, account, ev, fetched)
		if err != nil {
			s.log.Error().Err(err).Str("event_id", ev.ID).Uint("user_id", account.ID).
				Msg("event reconcile failed")
			continue
		}
		if created {
			res.Created++
		}
		if updated {
			res.Updated++
		}
	}

	deleted, err := s.propagateDeletions(ctx, account, fetched)
	if err != nil {
		return res, fmt.Errorf("deletion detection for user %d: %w", account.ID, err)
	}
	res.Deleted = deleted

	pushed, err := s.pushUnlinked(ctx, account, now, end)
	if err != nil {
		return res, fmt.Errorf("outbound push for user %d: %w", account.ID, err)
	}
	res.Pushed = pushed

	if err := s.verifyCompleted(ctx, account, now); err != nil {
		return res, fmt.Errorf("completion verification for user %d: %w", account.ID, err)
	}

	if err := s.users.UpdateLastSync(ctx, account.ID, now); err != nil {
		return res, err
	}
	account.LastCalendarSync = &now
	return res, nil
}

// isTaskEvent decides whether an external event belongs to the task system:
// either its color matches the account's marker color, or hashtag matching is
// on and the title carries a '#'.
func (s *SyncEngine) isTaskEvent(account *model.User, ev calendar.Event) bool {
	if account.SyncColorID != "" && ev.ColorID == account.SyncColorID {
		return true
	}
	return account.SyncHashtag && strings.Contains(ev.Title, "#")
}

// reconcileEvent brings one fetched event and its local counterpart in line.
func (s *SyncEngine) reconcileEvent(ctx context.Context, account *model.User, ev calendar.Event, fetched map[string]struct{}) (created, updated bool, err error) {
	task, err := s.tasks.FindByExternalEventID(ctx, account.ID, ev.ID)
	if err != nil {
		return false, false, err
	}
	if task != nil {
		changed, err := s.resolveConflict(ctx, account, task, ev, fetched)
		return false, changed, err
	}

	now := s.clock.Now().UTC()
	evUpdated := ev.UpdatedAt.UTC()
	due := ev.Start.UTC()
	eventID := ev.ID
	task = &model.Task{
		OwnerID:                account.ID,
		Description:            ev.Title,
		Status:                 model.StatusPending,
		DueAt:                  &due,
		ExternalEventID:        &eventID,
		ExternalEventUpdatedAt: &evUpdated,
		LocalModifiedAt:        now,
		OriginatedExternally:   true,
	}
	if ev.Done() {
		task.Status = model.StatusCompleted
		task.CompletedAt = &now
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// propagateDeletions removes pending calendar-originated tasks whose event no
// longer exists on the external side.
func (s *SyncEngine) propagateDeletions(ctx context.Context, account *model.User, fetched map[string]struct{}) (int, error) {
	linked, err := s.tasks.ListExternallyLinkedPending(ctx, account.ID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := range linked {
		task := &linked[i]
		if task.ExternalEventID == nil {
			continue
		}
		if _, ok := fetched[*task.ExternalEventID]; ok {
			continue
		}
		if err := s.tasks.Delete(ctx, task.ID); err != nil {
			s.log.Error().Err(err).Uint("task_id", task.ID).Msg("deletion propagation failed")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// pushUnlinked creates calendar events for locally created upcoming tasks that
// have none yet.
func (s *SyncEngine) pushUnlinked(ctx context.Context, account *model.User, from, to time.Time) (int, error) {
	tasks, err := s.tasks.ListUnlinkedUpcoming(ctx, account.ID, from, to, pushUnlinkedLimit)
	if err != nil {
		return 0, err
	}
	pushed := 0
	for i := range tasks {
		task := &tasks[i]
		spec := eventSpecFromTask(account, task)
		id, err := s.cal.CreateEvent(ctx, account, spec)
		if err != nil {
			s.log.Error().Err(err).Uint("task_id", task.ID).Msg("event creation failed")
			continue
		}
		now := s.clock.Now().UTC()
		task.ExternalEventID = &id
		task.ExternalEventUpdatedAt = &now
		if err := s.tasks.Save(ctx, task); err != nil {
			s.log.Error().Err(err).Uint("task_id", task.ID).Msg("event link save failed")
			continue
		}
		pushed++
	}
	return pushed, nil
}

// verifyCompleted marks recently completed tasks as done on the external side:
// a check-mark title prefix plus the completed color. Events already deleted
// externally are skipped.
func (s *SyncEngine) verifyCompleted(ctx context.Context, account *model.User, now time.Time) error {
	tasks, err := s.tasks.ListRecentCompletedLinked(ctx, account.ID, now.Add(-verifyCompletedWindow), verifyCompletedLimit)
	if err != nil {
		return err
	}
	for i := range tasks {
		task := &tasks[i]
		if task.ExternalEventID == nil {
			continue
		}
		title := task.Description
		if !strings.HasPrefix(title, completedPrefix) {
			title = completedPrefix + title
		}
		spec := calendar.EventSpec{
			ID:      *task.ExternalEventID,
			Title:   title,
			ColorID: completedColorID,
		}
		if task.DueAt != nil {
			spec.Start = task.DueAt.UTC()
			spec.End = spec.Start.Add(defaultEventDuration)
		}
		if err := s.cal.UpdateEvent(ctx, account, spec); err != nil {
			if calendar.IsNotFound(err) {
				continue
			}
			s.log.Error().Err(err).Uint("task_id", task.ID).Msg("completion mark failed")
		}
	}
	return nil
}
