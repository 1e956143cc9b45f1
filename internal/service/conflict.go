package service

import (
	"context"
	"fmt"
	"time"

	"todobot/internal/calendar"
	"todobot/internal/model"
)

// defaultEventDuration is used when a task carries only a due instant.
const defaultEventDuration = time.Hour

// resolveConflict reconciles a task already linked to an external event.
// Last writer wins: the side with the later modification timestamp overwrites
// the other. Returns true when the local row changed. An event recreated
// mid-pass is registered in fetched so deletion detection spares the new link.
func (s *SyncEngine) resolveConflict(ctx context.Context, account *model.User, task *model.Task, ev calendar.Event, fetched map[string]struct{}) (bool, error) {
	evUpdated := ev.UpdatedAt.UTC()
	if task.ExternalEventUpdatedAt != nil && !task.ExternalEventUpdatedAt.Before(evUpdated) {
		// Event unchanged since we last looked at it.
		return false, nil
	}

	if task.LocalModifiedAt.After(evUpdated) {
		// Local edit is newer: push it out.
		spec := eventSpecFromTask(account, task)
		if err := s.cal.UpdateEvent(ctx, account, spec); err != nil {
			if calendar.IsNotFound(err) {
				// Event vanished between fetch and push; relink with a fresh one.
				task.ExternalEventID = nil
				id, cerr := s.cal.CreateEvent(ctx, account, calendar.EventSpec{
					Title: spec.Title,
					Start: spec.Start,
					End:   spec.End,
				})
				if cerr != nil {
					return false, fmt.Errorf("recreate event for task %d: %w", task.ID, cerr)
				}
				task.ExternalEventID = &id
				fetched[id] = struct{}{}
			} else {
				return false, fmt.Errorf("push task %d to calendar: %w", task.ID, err)
			}
		}
		task.ExternalEventUpdatedAt = &evUpdated
		if err := s.tasks.Save(ctx, task); err != nil {
			return false, err
		}
		return false, nil
	}

	// Remote edit is newer: pull it in. LocalModifiedAt stays untouched so a
	// pull never masquerades as a local edit on the next pass.
	task.Description = ev.Title
	due := ev.Start.UTC()
	task.DueAt = &due
	if ev.Done() && task.Status == model.StatusPending {
		now := s.clock.Now().UTC()
		task.Status = model.StatusCompleted
		task.CompletedAt = &now
	}
	task.ExternalEventUpdatedAt = &evUpdated
	if err := s.tasks.Save(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}

func eventSpecFromTask(account *model.User, task *model.Task) calendar.EventSpec {
	spec := calendar.EventSpec{Title: task.Description}
	if task.ExternalEventID != nil {
		spec.ID = *task.ExternalEventID
	}
	if task.DueAt != nil {
		spec.Start = task.DueAt.UTC()
		spec.End = spec.Start.Add(defaultEventDuration)
	}
	if account.SyncColorID != "" {
		spec.ColorID = account.SyncColorID
	}
	return spec
}
