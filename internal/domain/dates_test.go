package domain

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestLocalDaysEndsOneUnitBeforeNextDay(t *testing.T) {
	lima := mustLoad(t, "America/Lima")
	day := time.Date(2025, 3, 14, 12, 0, 0, 0, lima)

	r := LocalDayOf(lima, day)

	assert.Equal(t, time.Date(2025, 3, 14, 5, 0, 0, 0, time.UTC), r.From)
	assert.Equal(t, time.Date(2025, 3, 15, 4, 59, 59, 999999000, time.UTC), r.To)
}

func TestLocalDaysIncludesLastSecondOfDay(t *testing.T) {
	lima := mustLoad(t, "America/Lima")
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, lima)
	r := LocalDayOf(lima, day)

	lateEntry := StorageTime(time.Date(2025, 3, 14, 23, 59, 59, 999999999, lima))
	assert.True(t, r.Contains(lateEntry))

	// A literal 23:59:59 end bound drops the same entry.
	literalEnd := time.Date(2025, 3, 14, 23, 59, 59, 0, lima).UTC()
	assert.True(t, lateEntry.After(literalEnd))
}

func TestConsecutiveDaysPartitionInstantsExactlyOnce(t *testing.T) {
	for _, zone := range []string{"America/Lima", "America/New_York", "UTC", "Asia/Kathmandu"} {
		t.Run(zone, func(t *testing.T) {
			loc := mustLoad(t, zone)
			// Spans the 2024 US fall-back transition.
			first := time.Date(2024, 11, 2, 0, 0, 0, 0, loc)
			days := []TimeRange{
				LocalDayOf(loc, first),
				LocalDayOf(loc, first.AddDate(0, 0, 1)),
				LocalDayOf(loc, first.AddDate(0, 0, 2)),
			}
			for i := 1; i < len(days); i++ {
				require.Equal(t, days[i-1].To.Add(StorageResolution), days[i].From, "days must be adjacent")
			}

			instants := []time.Time{}
			for at := days[0].From; at.Before(days[2].To); at = at.Add(7 * time.Minute) {
				instants = append(instants, at)
			}
			for i := 0; i < len(days)-1; i++ {
				boundary := days[i].To
				instants = append(instants, boundary, boundary.Add(StorageResolution), boundary.Add(-2*time.Second))
			}

			for _, at := range instants {
				hits := 0
				for _, d := range days {
					if d.Contains(at) {
						hits++
					}
				}
				assert.Equal(t, 1, hits, "instant %s", at)
			}
		})
	}
}

func TestEntryAtTwoSecondsToMidnightLandsInItsOwnDay(t *testing.T) {
	lima := mustLoad(t, "America/Lima")
	entry := StorageTime(time.Date(2025, 6, 30, 23, 59, 58, 0, lima))

	june30, err := ParseDateRange(lima, "2025-06-30", "2025-06-30", entry)
	require.NoError(t, err)
	july1, err := ParseDateRange(lima, "2025-07-01", "2025-07-01", entry)
	require.NoError(t, err)

	assert.True(t, june30.Contains(entry))
	assert.False(t, july1.Contains(entry))
}

func TestParseDateRangeDefaultsAndErrors(t *testing.T) {
	lima := mustLoad(t, "America/Lima")
	// 03:00 UTC is still the previous day in Lima.
	now := time.Date(2025, 1, 10, 3, 0, 0, 0, time.UTC)

	r, err := ParseDateRange(lima, "", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 9, 5, 0, 0, 0, time.UTC), r.From)

	_, err = ParseDateRange(lima, "2025-01-10", "2025-01-09", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseDateRange(lima, "10/01/2025", "", now)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
