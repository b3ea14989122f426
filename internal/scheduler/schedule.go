package scheduler

import (
	"fmt"
	"time"
)

// Schedule describes when a job is due, evaluated against the injected
// clock rather than wall-clock cron ticks. A job is due when the current
// occurrence time is in the past and the job has not run since.
type Schedule struct {
	// Kind is daily, weekly or monthly.
	Kind string
	// Hour and Minute anchor the occurrence within the day.
	Hour   int
	Minute int
	// Weekday applies to weekly schedules only.
	Weekday time.Weekday
}

func Daily(hour, minute int) Schedule {
	return Schedule{Kind: "daily", Hour: hour, Minute: minute}
}

func Weekly(weekday time.Weekday, hour, minute int) Schedule {
	return Schedule{Kind: "weekly", Weekday: weekday, Hour: hour, Minute: minute}
}

// MonthlyFirst fires on the first day of each month.
func MonthlyFirst(hour, minute int) Schedule {
	return Schedule{Kind: "monthly", Hour: hour, Minute: minute}
}

// lastOccurrence returns the most recent occurrence at or before now.
func (s Schedule) lastOccurrence(now time.Time) time.Time {
	switch s.Kind {
	case "weekly":
		anchor := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
		offset := int(now.Weekday() - s.Weekday)
		if offset < 0 {
			offset += 7
		}
		anchor = anchor.AddDate(0, 0, -offset)
		if anchor.After(now) {
			anchor = anchor.AddDate(0, 0, -7)
		}
		return anchor
	case "monthly":
		anchor := time.Date(now.Year(), now.Month(), 1, s.Hour, s.Minute, 0, 0, now.Location())
		if anchor.After(now) {
			anchor = anchor.AddDate(0, -1, 0)
		}
		return anchor
	default:
		anchor := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
		if anchor.After(now) {
			anchor = anchor.AddDate(0, 0, -1)
		}
		return anchor
	}
}

// due reports whether the job should run now given when it last ran. A
// zero lastRun means it has never run; the job fires on the next tick
// after an occurrence passes.
func (s Schedule) due(lastRun, now time.Time) bool {
	occurrence := s.lastOccurrence(now)
	return lastRun.Before(occurrence)
}

func (s Schedule) String() string {
	switch s.Kind {
	case "weekly":
		return fmt.Sprintf("weekly %s %02d:%02d", s.Weekday, s.Hour, s.Minute)
	case "monthly":
		return fmt.Sprintf("monthly 1st %02d:%02d", s.Hour, s.Minute)
	default:
		return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
	}
}
