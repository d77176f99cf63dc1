// Package session implements the session worker: rolling-window schedule
// generation, both event-driven and on a periodic top-up sweep.
package session

import (
	"fmt"
	"time"

	"github.com/tutormesh/coordinator/internal/domain"
)

// RollingWindowSize is the number of future sessions materialised
// immediately after allocation creation.
const RollingWindowSize = 7

// TopUpThreshold is the minimum number of future sessions the periodic
// sweep maintains for every active allocation.
const TopUpThreshold = 3

// Slot is one generated session occurrence, not yet persisted.
type Slot struct {
	Date          time.Time
	Time          string
	SessionNumber int
	Type          domain.SessionType
	IsBookable    bool
	IsFixedTime   bool
}

// NextDates returns the next n calendar dates valid for mode, starting
// on from if it is valid and otherwise on the first valid date after it: WEEKDAY_DAILY
// skips Saturday and Sunday, SUNDAY_ONLY uses only Sundays.
func NextDates(mode domain.DeliveryMode, from time.Time, n int) []time.Time {
	dates := make([]time.Time, 0, n)
	d := from
	for len(dates) < n {
		if dateValid(mode, d) {
			dates = append(dates, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return dates
}

func dateValid(mode domain.DeliveryMode, d time.Time) bool {
	switch mode {
	case domain.DeliverySundayOnly:
		return d.Weekday() == time.Sunday
	default:
		return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
	}
}

// Generate produces the full, ordered schedule for one allocation: valid
// calendar dates for the delivery mode, and session types per the HYBRID
// class type's alternation law. startNumber lets the event-driven and
// top-up paths ask only for the tail of an already partially-materialised
// schedule.
func Generate(mode domain.DeliveryMode, classType domain.ClassType, totalSessions int, start time.Time, slot string, startNumber int) ([]Slot, error) {
	if classType == domain.ClassHybrid && totalSessions != 30 {
		return nil, fmt.Errorf("session: HYBRID schedule generator requires exactly 30 total sessions, got %d", totalSessions)
	}
	if startNumber < 1 {
		startNumber = 1
	}

	count := totalSessions - (startNumber - 1)
	if count <= 0 {
		return nil, nil
	}

	dates := NextDates(mode, start, totalSessions)
	if len(dates) < totalSessions {
		return nil, fmt.Errorf("session: could not generate %d valid dates", totalSessions)
	}

	types := sessionTypes(classType, totalSessions)

	slots := make([]Slot, 0, count)
	for i := startNumber - 1; i < totalSessions; i++ {
		t := types[i]
		s := Slot{
			Date:          dates[i],
			Time:          slot,
			SessionNumber: i + 1,
			Type:          t,
		}
		if classType == domain.ClassHybrid {
			if t == domain.SessionOffline {
				s.IsBookable = true
				s.IsFixedTime = false
			} else {
				s.IsBookable = false
				s.IsFixedTime = true
			}
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// sessionTypes builds the per-session-number type assignment. For HYBRID
// at total=30: sessions 1-6 ONLINE, then alternate starting ONLINE, for
// totals of 18 ONLINE / 12 OFFLINE. Every other class type is uniformly
// ONLINE (a single online instructor, no split delivery).
func sessionTypes(classType domain.ClassType, total int) []domain.SessionType {
	types := make([]domain.SessionType, total)
	if classType != domain.ClassHybrid {
		for i := range types {
			types[i] = domain.SessionOnline
		}
		return types
	}

	onlineTarget, offlineTarget := 18, 12
	onlineCount, offlineCount := 0, 0
	for i := 0; i < total; i++ {
		if i < 6 {
			types[i] = domain.SessionOnline
			onlineCount++
			continue
		}
		// Alternate starting with ONLINE (session index 6 = session number 7).
		wantOnline := (i-6)%2 == 0
		switch {
		case wantOnline && onlineCount < onlineTarget:
			types[i] = domain.SessionOnline
			onlineCount++
		case !wantOnline && offlineCount < offlineTarget:
			types[i] = domain.SessionOffline
			offlineCount++
		case onlineCount < onlineTarget:
			types[i] = domain.SessionOnline
			onlineCount++
		default:
			types[i] = domain.SessionOffline
			offlineCount++
		}
	}
	return types
}
