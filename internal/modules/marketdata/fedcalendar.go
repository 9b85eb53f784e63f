package marketdata

import (
	"fmt"
	"sort"
	"time"
)

// fomcDates holds FOMC meeting conclusion (announcement) dates from the
// Fed's published calendar:
// https://www.federalreserve.gov/monetarypolicy/fomccalendars.htm
var fomcDates = map[int][]time.Time{
	2025: {
		day(2025, 1, 29), day(2025, 3, 19), day(2025, 5, 7), day(2025, 6, 18),
		day(2025, 7, 30), day(2025, 9, 17), day(2025, 10, 29), day(2025, 12, 17),
	},
	2026: {
		day(2026, 1, 28), day(2026, 3, 18), day(2026, 4, 29), day(2026, 6, 17),
		day(2026, 7, 29), day(2026, 9, 16), day(2026, 10, 28), day(2026, 12, 16),
	},
	2027: {
		day(2027, 1, 27), day(2027, 3, 17), day(2027, 5, 5), day(2027, 6, 16),
		day(2027, 7, 28), day(2027, 9, 22), day(2027, 10, 27), day(2027, 12, 15),
	},
}

// cpiDates holds CPI release (8:30 AM ET publication) dates from the BLS
// schedule: https://www.bls.gov/schedule/news_release/cpi.htm
var cpiDates = map[int][]time.Time{
	2025: {
		day(2025, 1, 15), day(2025, 2, 12), day(2025, 3, 12), day(2025, 4, 10),
		day(2025, 5, 13), day(2025, 6, 11), day(2025, 7, 11), day(2025, 8, 12),
		day(2025, 9, 10), day(2025, 10, 14), day(2025, 11, 12), day(2025, 12, 10),
	},
	2026: {
		day(2026, 1, 14), day(2026, 2, 11), day(2026, 3, 11), day(2026, 4, 14),
		day(2026, 5, 12), day(2026, 6, 10), day(2026, 7, 14), day(2026, 8, 12),
		day(2026, 9, 15), day(2026, 10, 13), day(2026, 11, 12), day(2026, 12, 10),
	},
	2027: {
		day(2027, 1, 13), day(2027, 2, 10), day(2027, 3, 10), day(2027, 4, 13),
		day(2027, 5, 12), day(2027, 6, 10), day(2027, 7, 14), day(2027, 8, 11),
		day(2027, 9, 14), day(2027, 10, 13), day(2027, 11, 10), day(2027, 12, 10),
	},
}

// FedSchedule produces economic event dates from the official published
// calendars. FOMC and CPI are hardcoded from the Fed/BLS schedules; NFP
// is computed as the first Friday of each month.
type FedSchedule struct{}

// EventDates returns the sorted dates of one event type in a year.
func (FedSchedule) EventDates(eventType string, year int) ([]time.Time, error) {
	switch eventType {
	case EventNFP:
		return nfpDates(year), nil
	case EventFOMC:
		return staticDates(fomcDates, eventType, year)
	case EventCPI:
		return staticDates(cpiDates, eventType, year)
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

// Events returns the full calendar for a year across all event types.
// Types whose schedule does not cover the year are skipped: the Fed and
// BLS publish roughly two years ahead, and NFP covers any year.
func (s FedSchedule) Events(year int) []EconomicEvent {
	var events []EconomicEvent
	for _, eventType := range []string{EventFOMC, EventNFP, EventCPI} {
		dates, err := s.EventDates(eventType, year)
		if err != nil {
			continue
		}
		for _, d := range dates {
			events = append(events, EconomicEvent{Type: eventType, Date: d})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Type < events[j].Type
	})
	return events
}

func staticDates(schedule map[int][]time.Time, eventType string, year int) ([]time.Time, error) {
	dates, ok := schedule[year]
	if !ok {
		return nil, fmt.Errorf("no %s schedule published for %d", eventType, year)
	}
	out := make([]time.Time, len(dates))
	copy(out, dates)
	return out, nil
}

// nfpDates computes the twelve NFP release dates of a year: the first
// Friday of each month.
func nfpDates(year int) []time.Time {
	dates := make([]time.Time, 0, 12)
	for month := time.January; month <= time.December; month++ {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		daysAhead := (int(time.Friday) - int(first.Weekday()) + 7) % 7
		dates = append(dates, first.AddDate(0, 0, daysAhead))
	}
	return dates
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}
