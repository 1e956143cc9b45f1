package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"todobot/internal/model"
	"todobot/internal/repository"
)

// SummaryService builds human-readable summaries for daily notifications.
type SummaryService struct {
	tasks *repository.TaskRepository
	loc   *time.Location
}

func NewSummaryService(tasks *repository.TaskRepository, loc *time.Location) *SummaryService {
	return &SummaryService{tasks: tasks, loc: loc}
}

func (s *SummaryService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	open, err := s.tasks.ListOpenByOwner(ctx, user.ID)
	if err != nil {
		return "", err
	}
	patterns, err := s.tasks.ListActivePatternsByOwner(ctx, user.ID)
	if err != nil {
		return "", err
	}

	sort.SliceStable(open, func(i, j int) bool {
		switch {
		case open[i].DueAt == nil && open[j].DueAt == nil:
			return open[i].CreatedAt.After(open[j].CreatedAt)
		case open[i].DueAt == nil:
			return false
		case open[j].DueAt == nil:
			return true
		default:
			return open[i].DueAt.Before(*open[j].DueAt)
		}
	})

	local := now.In(s.loc)

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", local.Format("02.01.2006")))

	builder.WriteString("🔥 <b>Open tasks</b>\n")
	if len(open) == 0 {
		builder.WriteString("— no open tasks\n")
	} else {
		for _, task := range open {
			builder.WriteString(s.formatTask(task, local))
		}
	}

	builder.WriteString("\n♻️ <b>Recurring series</b>\n")
	if len(patterns) == 0 {
		builder.WriteString("— no active series\n")
	} else {
		for _, pat := range patterns {
			builder.WriteString(s.formatPattern(pat))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func (s *SummaryService) formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	if task.DueAt != nil {
		d := task.DueAt.In(s.loc)
		switch {
		case now.After(d):
			icon = "⚠️"
		case d.Sub(now) <= 48*time.Hour:
			icon = "⏳"
		}
	}

	sb.WriteString(fmt.Sprintf("%s %s", icon, html.EscapeString(strings.TrimSpace(task.Description))))

	if task.DueAt != nil {
		d := task.DueAt.In(s.loc)
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s — <b>overdue</b>", d.Format("2006-01-02 15:04")))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s", d.Format("2006-01-02 15:04")))
		}
	}

	sb.WriteByte('\n')
	return sb.String()
}

func (s *SummaryService) formatPattern(pat model.Task) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("♻️ %s", html.EscapeString(strings.TrimSpace(pat.Description))))
	sb.WriteString(fmt.Sprintf(" · %s", describeRecurrence(pat)))
	if pat.DueAt != nil {
		sb.WriteString(fmt.Sprintf("\n   📆 next: %s", pat.DueAt.In(s.loc).Format("2006-01-02 15:04")))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func describeRecurrence(pat model.Task) string {
	switch pat.RecurrenceKind {
	case model.RecurDaily:
		return "daily"
	case model.RecurWeekly:
		return "weekly"
	case model.RecurSpecificDays:
		return "on " + pat.DaysOfWeek.String()
	case model.RecurInterval:
		n := pat.RecurrenceInterval
		if n <= 1 {
			return "daily"
		}
		return fmt.Sprintf("every %d days", n)
	case model.RecurMonthly:
		return fmt.Sprintf("monthly on day %d", pat.DayOfMonth)
	}
	return string(pat.RecurrenceKind)
}
