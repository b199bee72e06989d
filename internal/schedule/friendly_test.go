package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendlyRoundTrip(t *testing.T) {
	cases := []struct {
		pattern  string
		friendly Friendly
	}{
		{"0 2 * * *", Friendly{Frequency: Daily, Hour: 2, Minute: 0}},
		{"30 23 * * 0", Friendly{Frequency: Weekly, Hour: 23, Minute: 30, Weekday: 0}},
		{"5 4 * * 6", Friendly{Frequency: Weekly, Hour: 4, Minute: 5, Weekday: 6}},
		{"15 1 28 * *", Friendly{Frequency: Monthly, Hour: 1, Minute: 15, DayOfMonth: 28}},
		{"0 0 1 * *", Friendly{Frequency: Monthly, Hour: 0, Minute: 0, DayOfMonth: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			got, err := FromCron(tc.pattern)
			require.NoError(t, err)
			assert.Equal(t, tc.friendly, got)

			back, err := ToCron(got)
			require.NoError(t, err)
			assert.Equal(t, tc.pattern, back)

			require.NoError(t, Validate(back))
		})
	}
}

func TestToCronRejectsMonthEndDays(t *testing.T) {
	for _, day := range []int{0, 29, 30, 31} {
		_, err := ToCron(Friendly{Frequency: Monthly, Hour: 1, DayOfMonth: day})
		assert.Error(t, err, "day %d", day)
	}
}

func TestToCronRejectsOutOfRange(t *testing.T) {
	bad := []Friendly{
		{Frequency: Daily, Hour: 24},
		{Frequency: Daily, Minute: 60},
		{Frequency: Weekly, Weekday: 7},
		{Frequency: Daily, Weekday: 3},
		{Frequency: "hourly"},
	}
	for _, f := range bad {
		_, err := ToCron(f)
		assert.Error(t, err, "%+v", f)
	}
}

func TestFromCronRejectsOtherShapes(t *testing.T) {
	for _, pattern := range []string{
		"*/5 * * * *",
		"0 2 * * 7",
		"0 2 31 * *",
		"0 2 1 6 *",
		"0 2 1 * 1",
		"00 2 * * *",
		"0  2 * * *",
		"0 2-4 * * *",
	} {
		_, err := FromCron(pattern)
		assert.Error(t, err, pattern)
	}
}
