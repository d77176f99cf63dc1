package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutormesh/coordinator/internal/domain"
)

func TestNextDatesWeekdayDailySkipsWeekends(t *testing.T) {
	mon := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	dates := NextDates(domain.DeliveryWeekdayDaily, mon, 7)
	require.Len(t, dates, 7)

	for _, d := range dates {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
	assert.Equal(t, mon, dates[0])
	assert.Equal(t, time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), dates[6])
}

func TestNextDatesSundayOnly(t *testing.T) {
	mon := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	dates := NextDates(domain.DeliverySundayOnly, mon, 3)
	require.Len(t, dates, 3)
	for _, d := range dates {
		assert.Equal(t, time.Sunday, d.Weekday())
	}
}

// Tier-30 HYBRID starting 2024-06-03 (Mon). Session 7 is ONLINE,
// session 8 is OFFLINE, and the 30-session schedule totals 18 ONLINE /
// 12 OFFLINE.
func TestGenerateHybridScheduleLaw(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	slots, err := Generate(domain.DeliveryWeekdayDaily, domain.ClassHybrid, 30, start, "16:00", 1)
	require.NoError(t, err)
	require.Len(t, slots, 30)

	for i := 0; i < 6; i++ {
		assert.Equal(t, domain.SessionOnline, slots[i].Type, "session %d", i+1)
	}
	assert.Equal(t, domain.SessionOnline, slots[6].Type, "session 7")
	assert.Equal(t, domain.SessionOffline, slots[7].Type, "session 8")

	var online, offline int
	for _, s := range slots {
		switch s.Type {
		case domain.SessionOnline:
			online++
			assert.True(t, s.IsFixedTime)
			assert.False(t, s.IsBookable)
		case domain.SessionOffline:
			offline++
			assert.True(t, s.IsBookable)
			assert.False(t, s.IsFixedTime)
		}
	}
	assert.Equal(t, 18, online)
	assert.Equal(t, 12, offline)
}

func TestGenerateHybridRejectsNonTier30(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	_, err := Generate(domain.DeliveryWeekdayDaily, domain.ClassHybrid, 20, start, "16:00", 1)
	assert.Error(t, err)
}

func TestGenerateNonHybridIsUniformlyOnline(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	slots, err := Generate(domain.DeliveryWeekdayDaily, domain.ClassOneOnOne, 10, start, "16:00", 1)
	require.NoError(t, err)
	require.Len(t, slots, 10)
	for _, s := range slots {
		assert.Equal(t, domain.SessionOnline, s.Type)
	}
}

func TestGenerateTailFromStartNumber(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	slots, err := Generate(domain.DeliveryWeekdayDaily, domain.ClassOneOnOne, 10, start, "16:00", 8)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, 8, slots[0].SessionNumber)
	assert.Equal(t, 10, slots[2].SessionNumber)
}
