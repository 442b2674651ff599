package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleToUTC(t *testing.T) {
	got, err := ScheduleToUTC("2025-01-10", "09:00", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())

	// Daylight saving time in July.
	got, err = ScheduleToUTC("2025-07-10", "09:00:30", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 10, 13, 0, 30, 0, time.UTC), got)
}

func TestScheduleToUTCRejectsBadInput(t *testing.T) {
	_, err := ScheduleToUTC("2025-01-10", "09:00", "Mars/Olympus")
	assert.Error(t, err)

	_, err = ScheduleToUTC("2025-01-10", "09:00", "")
	assert.Error(t, err)

	_, err = ScheduleToUTC("10/01/2025", "09:00", "UTC")
	assert.Error(t, err)

	_, err = ScheduleToUTC("2025-01-10", "9am", "UTC")
	assert.Error(t, err)
}
