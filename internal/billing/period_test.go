package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodAddMonths(t *testing.T) {
	p := Period{Year: 2024, Month: time.November}

	require.Equal(t, Period{Year: 2025, Month: time.January}, p.AddMonths(2))
	require.Equal(t, Period{Year: 2024, Month: time.November}, p.AddMonths(0))
	require.Equal(t, Period{Year: 2023, Month: time.December}, p.AddMonths(-11))
	require.Equal(t, Period{Year: 2022, Month: time.November}, p.AddMonths(-24))
}

func TestMonthsBetween(t *testing.T) {
	jan := Period{Year: 2024, Month: time.January}
	apr := Period{Year: 2024, Month: time.April}

	require.Equal(t, 3, MonthsBetween(jan, apr))
	require.Equal(t, -3, MonthsBetween(apr, jan))
	require.Equal(t, 0, MonthsBetween(jan, jan))
	require.Equal(t, 13, MonthsBetween(Period{Year: 2023, Month: time.December}, Period{Year: 2025, Month: time.January}))
}

func TestPeriodCompare(t *testing.T) {
	older := Period{Year: 2023, Month: time.December}
	newer := Period{Year: 2024, Month: time.January}

	require.Equal(t, -1, older.Compare(newer))
	require.Equal(t, 1, newer.Compare(older))
	require.Equal(t, 0, newer.Compare(newer))
	require.True(t, older.Before(newer))
	require.False(t, newer.Before(older))
}

func TestPeriodKeyRoundTrip(t *testing.T) {
	p := Period{Year: 2024, Month: time.March}
	require.Equal(t, "2024-03", p.Key())

	parsed, err := ParsePeriodKey("2024-03")
	require.NoError(t, err)
	require.Equal(t, p, parsed)

	_, err = ParsePeriodKey("2024-13")
	require.Error(t, err)
	_, err = ParsePeriodKey("garbage")
	require.Error(t, err)
}

func TestPeriodLabel(t *testing.T) {
	require.Equal(t, "January 2024", Period{Year: 2024, Month: time.January}.Label())
	require.Equal(t, "December 2023", Period{Year: 2023, Month: time.December}.Label())
	require.Equal(t, "13 2024", Period{Year: 2024, Month: time.Month(13)}.Label())
}

func TestMonthRange(t *testing.T) {
	start := time.Date(2023, time.November, 12, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.February, 3, 0, 0, 0, 0, time.UTC)

	got := MonthRange(start, end)
	require.Equal(t, []Period{
		{Year: 2023, Month: time.November},
		{Year: 2023, Month: time.December},
		{Year: 2024, Month: time.January},
		{Year: 2024, Month: time.February},
	}, got)
}

func TestMonthRangeStartAfterEnd(t *testing.T) {
	start := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	got := MonthRange(start, end)
	require.Equal(t, []Period{{Year: 2024, Month: time.May}}, got)
}

func TestTrailingMonths(t *testing.T) {
	end := time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC)

	got := TrailingMonths(end, 3)
	require.Equal(t, []Period{
		{Year: 2023, Month: time.December},
		{Year: 2024, Month: time.January},
		{Year: 2024, Month: time.February},
	}, got)

	require.Equal(t, []Period{{Year: 2024, Month: time.February}}, TrailingMonths(end, 0))
}
