package main

import (
	"github.com/rs/zerolog"

	"todobot/internal/calendar"
)

// newCalendarClient builds the calendar provider for this deployment. The
// default build ships without one; plug a Google Calendar or CalDAV client in
// here to enable the sync jobs.
func newCalendarClient(log zerolog.Logger) calendar.Client {
	log.Info().Msg("no calendar provider configured, sync disabled")
	return nil
}
