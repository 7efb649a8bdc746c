// Package schedule stores posting directives and computes when they fire next.
//
// Directives are keyed by guild, channel and payload kind. Next fire times are
// stored as UTC instants and advanced on the wall clock of the directive's
// zone, so a daily 09:00 post stays at 09:00 across daylight saving changes.
package schedule
