package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"todobot/internal/calendar"
	"todobot/internal/model"
	"todobot/internal/repository"
)

// fakeCalendar is an in-memory calendar.Client.
type fakeCalendar struct {
	events map[string]calendar.Event
	nextID int

	fetchErrs      []error // popped per FetchEvents call before serving
	failCreate     bool
	notFoundUpdate bool
	fetchCalls     int
	updateCalls    int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]calendar.Event)}
}

func (f *fakeCalendar) add(ev calendar.Event) calendar.Event {
	if ev.ID == "" {
		f.nextID++
		ev.ID = fmt.Sprintf("ev-%d", f.nextID)
	}
	f.events[ev.ID] = ev
	return ev
}

func (f *fakeCalendar) FetchEvents(_ context.Context, _ *model.User, start, end time.Time, _ bool) ([]calendar.Event, error) {
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []calendar.Event
	for _, ev := range f.events {
		if !ev.Start.Before(start) && ev.Start.Before(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ *model.User, spec calendar.EventSpec) (string, error) {
	if f.failCreate {
		return "", &calendar.TransientError{Op: "create", Err: fmt.Errorf("boom")}
	}
	f.nextID++
	id := fmt.Sprintf("ev-%d", f.nextID)
	f.events[id] = calendar.Event{
		ID: id, Title: spec.Title, Start: spec.Start, End: spec.End,
		ColorID: spec.ColorID, UpdatedAt: spec.Start,
	}
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, _ *model.User, spec calendar.EventSpec) error {
	f.updateCalls++
	ev, ok := f.events[spec.ID]
	if f.notFoundUpdate || !ok {
		return &calendar.NotFoundError{EventID: spec.ID}
	}
	ev.Title = spec.Title
	if !spec.Start.IsZero() {
		ev.Start = spec.Start
		ev.End = spec.End
	}
	if spec.ColorID != "" {
		ev.ColorID = spec.ColorID
	}
	f.events[spec.ID] = ev
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ *model.User, eventID string) error {
	if _, ok := f.events[eventID]; !ok {
		return &calendar.NotFoundError{EventID: eventID}
	}
	delete(f.events, eventID)
	return nil
}

type syncFixture struct {
	engine  *SyncEngine
	tasks   *repository.TaskRepository
	users   *repository.UserRepository
	cal     *fakeCalendar
	clock   *fakeClock
	account *model.User
	db      *gorm.DB
}

func newSyncFixture(t *testing.T, now time.Time) *syncFixture {
	t.Helper()
	db := newTestDB(t)
	tasks := repository.NewTaskRepository(db)
	users := repository.NewUserRepository(db)
	cal := newFakeCalendar()
	clock := &fakeClock{now: now}

	account := &model.User{
		TelegramID:      100,
		CalendarEnabled: true,
		SyncColorID:     "5",
		SyncHashtag:     true,
	}
	require.NoError(t, db.Create(account).Error)

	return &syncFixture{
		engine:  NewSyncEngine(tasks, users, cal, clock, time.UTC, testLogger()),
		tasks:   tasks,
		users:   users,
		cal:     cal,
		clock:   clock,
		account: account,
		db:      db,
	}
}

func TestSyncAccountCreatesFromMarkedEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	colorMatch := f.cal.add(calendar.Event{
		Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5",
	})
	hashtagMatch := f.cal.add(calendar.Event{
		Title: "file taxes #todo", Start: now.Add(48 * time.Hour), UpdatedAt: now,
	})
	f.cal.add(calendar.Event{
		Title: "team lunch", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "2",
	})

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, colorMatch.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "dentist", task.Description)
	assert.True(t, task.OriginatedExternally)
	assert.True(t, task.DueAt.Equal(colorMatch.Start))

	task, err = f.tasks.FindByExternalEventID(ctx, f.account.ID, hashtagMatch.ID)
	require.NoError(t, err)
	require.NotNil(t, task)

	// Watermark advanced to this pass.
	require.NotNil(t, f.account.LastCalendarSync)
	assert.True(t, f.account.LastCalendarSync.Equal(now))
}

func TestSyncAccountSkipsDisabled(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)
	f.account.CalendarEnabled = false

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Zero(t, f.cal.fetchCalls)
}

func TestSyncAccountIdempotentSecondPass(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	f.clock.Advance(10 * time.Minute)
	res, err = f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
}

func TestSyncAccountRetriesTransientFetch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})
	f.cal.fetchErrs = []error{&calendar.TransientError{Op: "fetch", Err: fmt.Errorf("503")}}

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, f.cal.fetchCalls)
}

func TestSyncAccountFetchFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	f.cal.fetchErrs = []error{fmt.Errorf("401 unauthorized")}

	_, err := f.engine.SyncAccount(ctx, f.account)
	require.Error(t, err)
	// Non-transient failure: no retry, no watermark advance.
	assert.Equal(t, 1, f.cal.fetchCalls)

	fresh, err := f.users.FindByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.LastCalendarSync)
}

func TestSyncAccountStepFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	// Store goes away after fetch: the deletion-detection listing fails and
	// the pass must abort without advancing the watermark.
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.engine.SyncAccount(ctx, f.account)
	require.Error(t, err)
	assert.Nil(t, f.account.LastCalendarSync)
}

func TestSyncAccountPullsRemoteEdit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	ev := f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})
	_, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	localModified := task.LocalModifiedAt

	// Remote side edits title and time after our pass.
	ev.Title = "dentist (moved)"
	ev.Start = now.Add(30 * time.Hour)
	ev.UpdatedAt = now.Add(5 * time.Minute)
	f.cal.events[ev.ID] = ev

	f.clock.Advance(10 * time.Minute)
	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	task, err = f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "dentist (moved)", task.Description)
	assert.True(t, task.DueAt.Equal(ev.Start))
	// A pull is not a local edit.
	assert.True(t, task.LocalModifiedAt.Equal(localModified))
}

func TestSyncAccountPushesLocalEdit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	ev := f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})
	_, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	// Both sides change; the local edit is the later one and must win.
	ev.Title = "dentist (remote)"
	ev.UpdatedAt = now.Add(5 * time.Minute)
	f.cal.events[ev.ID] = ev

	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	task.Description = "dentist + x-ray"
	task.LocalModifiedAt = now.Add(20 * time.Minute)
	require.NoError(t, f.tasks.Save(ctx, task))

	f.clock.Advance(30 * time.Minute)
	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)

	assert.Equal(t, "dentist + x-ray", f.cal.events[ev.ID].Title)

	// Local copy keeps its newer description.
	task, err = f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "dentist + x-ray", task.Description)
}

func TestSyncAccountRelinksOnVanishedEvent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	ev := f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})
	_, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	ev.UpdatedAt = now.Add(5 * time.Minute)
	f.cal.events[ev.ID] = ev

	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	task.Description = "dentist + x-ray"
	task.LocalModifiedAt = now.Add(20 * time.Minute)
	require.NoError(t, f.tasks.Save(ctx, task))

	// Push hits a deleted event and relinks the task to a fresh one.
	f.cal.notFoundUpdate = true
	f.clock.Advance(30 * time.Minute)
	_, err = f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	relinked, err := f.tasks.FindByID(ctx, f.account.ID, task.ID)
	require.NoError(t, err)
	require.NotNil(t, relinked.ExternalEventID)
	assert.NotEqual(t, ev.ID, *relinked.ExternalEventID)
	assert.Equal(t, "dentist + x-ray", f.cal.events[*relinked.ExternalEventID].Title)
}

func TestSyncAccountCompletesFromDoneEvent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	ev := f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})
	_, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	ev.Transparency = calendar.TransparencyTransparent
	ev.UpdatedAt = now.Add(time.Minute)
	f.cal.events[ev.ID] = ev

	f.clock.Advance(10 * time.Minute)
	_, err = f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)
}

func TestSyncAccountPropagatesDeletions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	ev := f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})
	_, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, task)

	delete(f.cal.events, ev.ID)

	f.clock.Advance(10 * time.Minute)
	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	gone, err := f.tasks.FindByID(ctx, f.account.ID, task.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSyncAccountDeletionSparesLocalTasks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	// A locally created task pushed out, then its event deleted remotely:
	// only calendar-originated tasks follow the event to the grave.
	due := now.Add(24 * time.Hour)
	local := &model.Task{
		OwnerID: f.account.ID, Description: "call mom", Status: model.StatusPending,
		DueAt: &due, LocalModifiedAt: now,
	}
	require.NoError(t, f.tasks.Create(ctx, local))

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	linked, err := f.tasks.FindByID(ctx, f.account.ID, local.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.ExternalEventID)
	delete(f.cal.events, *linked.ExternalEventID)

	f.clock.Advance(10 * time.Minute)
	res, err = f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)

	kept, err := f.tasks.FindByID(ctx, f.account.ID, local.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSyncAccountPushesUnlinkedUpcoming(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	due := now.Add(24 * time.Hour)
	local := &model.Task{
		OwnerID: f.account.ID, Description: "call mom", Status: model.StatusPending,
		DueAt: &due, LocalModifiedAt: now,
	}
	require.NoError(t, f.tasks.Create(ctx, local))

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	linked, err := f.tasks.FindByID(ctx, f.account.ID, local.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.ExternalEventID)

	pushed, ok := f.cal.events[*linked.ExternalEventID]
	require.True(t, ok)
	assert.Equal(t, "call mom", pushed.Title)
	assert.Equal(t, "5", pushed.ColorID)
}

func TestSyncAccountVerifiesCompleted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	ev := f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(2 * time.Hour), UpdatedAt: now, ColorID: "5"})
	_, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	// Completed locally a few minutes ago.
	task, err := f.tasks.FindByExternalEventID(ctx, f.account.ID, ev.ID)
	require.NoError(t, err)
	completedAt := now.Add(25 * time.Minute)
	task.Status = model.StatusCompleted
	task.CompletedAt = &completedAt
	require.NoError(t, f.tasks.Save(ctx, task))

	f.clock.Advance(30 * time.Minute)
	_, err = f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)

	marked := f.cal.events[ev.ID]
	assert.Equal(t, "✅ dentist", marked.Title)
	assert.Equal(t, "8", marked.ColorID)
}

func TestSyncAccountItemFailureDoesNotAbortPass(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newSyncFixture(t, now)

	f.cal.add(calendar.Event{Title: "dentist", Start: now.Add(24 * time.Hour), UpdatedAt: now, ColorID: "5"})

	// Outbound creation fails, but fetched events must still reconcile and
	// the watermark must still advance.
	due := now.Add(24 * time.Hour)
	require.NoError(t, f.tasks.Create(ctx, &model.Task{
		OwnerID: f.account.ID, Description: "call mom", Status: model.StatusPending,
		DueAt: &due, LocalModifiedAt: now,
	}))
	f.cal.failCreate = true

	res, err := f.engine.SyncAccount(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Pushed)
	require.NotNil(t, f.account.LastCalendarSync)
}
