package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDays(t *testing.T) {
	tests := []struct {
		name string
		date string
		n    int
		want string
	}{
		{name: "forward one day", date: "2024-03-01", n: 1, want: "2024-03-02"},
		{name: "back one day across month", date: "2024-03-01", n: -1, want: "2024-02-29"},
		{name: "back across year", date: "2024-01-02", n: -3, want: "2023-12-30"},
		{name: "zero", date: "2024-06-15", n: 0, want: "2024-06-15"},
		{name: "window start for W=30", date: "2024-02-15", n: -29, want: "2024-01-17"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddDays(tt.date, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddDays_Invalid(t *testing.T) {
	_, err := AddDays("15/06/2024", 1)
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	got, err := DaysBetween("2024-01-01", "2024-01-04")
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = DaysBetween("2024-01-04", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, -3, got)
}

func TestDateRange(t *testing.T) {
	days, err := DateRange("2024-02-27", "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, days)

	days, err = DateRange("2024-02-27", "2024-02-27")
	require.NoError(t, err)
	assert.Len(t, days, 1)

	_, err = DateRange("2024-03-02", "2024-02-27")
	assert.Error(t, err)
}

func TestIsSupportedWindow(t *testing.T) {
	for _, w := range SupportedWindows {
		assert.True(t, IsSupportedWindow(w))
	}
	assert.False(t, IsSupportedWindow(4))
	assert.False(t, IsSupportedWindow(0))
}
