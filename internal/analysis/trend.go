// Package analysis computes trend statistics and a short-horizon forecast
// from a normalized observation table.
//
// The forecast is an ordinary least squares fit of value against the row's
// position index in the period-ordered series, extrapolated forward. No
// seasonal adjustment and no confidence intervals: identical input yields
// identical numeric output.
package analysis

import (
	"errors"
	"fmt"
	"sort"

	"github.com/greenpulse/greenpulse/internal/models"
)

var (
	// ErrInsufficientData means the table is too short to analyze.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDivisionByZero means a percent change baseline is zero, which
	// would otherwise produce Inf or NaN.
	ErrDivisionByZero = errors.New("division by zero")
)

// Options control the recent-trend window and forecast horizon.
type Options struct {
	// RecentWindow is the number of trailing periods for the recent-trend
	// change. Ten periods suits yearly series.
	RecentWindow int

	// ForecastPeriods is the number of future periods to project.
	ForecastPeriods int
}

// DefaultOptions matches yearly-granularity series.
func DefaultOptions() Options {
	return Options{RecentWindow: 10, ForecastPeriods: 5}
}

// Analyze derives a TrendSummary from a table. The input table is not
// mutated; rows are re-sorted into period order on a copy.
func Analyze(table models.ObservationTable, opts Options) (models.TrendSummary, error) {
	if len(table) < 2 {
		return models.TrendSummary{}, fmt.Errorf("%w: need at least 2 rows, got %d", ErrInsufficientData, len(table))
	}

	rows := make(models.ObservationTable, len(table))
	copy(rows, table)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Period < rows[j].Period })

	baseline := rows[0]
	latest := rows[len(rows)-1]

	if baseline.Value == 0 {
		return models.TrendSummary{}, fmt.Errorf("%w: baseline value for period %d is zero", ErrDivisionByZero, baseline.Period)
	}
	percentChange := (latest.Value - baseline.Value) / baseline.Value

	// Peak, ties broken by earliest period.
	peak := rows[0]
	for _, row := range rows[1:] {
		if row.Value > peak.Value {
			peak = row
		}
	}

	window := opts.RecentWindow
	if window < 2 || window > len(rows) {
		window = len(rows)
	}
	recentBaseline := rows[len(rows)-window]
	if recentBaseline.Value == 0 {
		return models.TrendSummary{}, fmt.Errorf("%w: recent-window baseline for period %d is zero", ErrDivisionByZero, recentBaseline.Period)
	}
	recentChange := (latest.Value - recentBaseline.Value) / recentBaseline.Value

	slope, intercept := olsFit(rows)

	stride := latest.Period - rows[len(rows)-2].Period
	if stride <= 0 {
		stride = 1
	}

	forecast := make([]models.ForecastPoint, 0, opts.ForecastPeriods)
	for k := 1; k <= opts.ForecastPeriods; k++ {
		x := float64(len(rows) - 1 + k)
		forecast = append(forecast, models.ForecastPoint{
			Period: latest.Period + k*stride,
			Value:  slope*x + intercept,
		})
	}

	return models.TrendSummary{
		BaselinePeriod:     baseline.Period,
		BaselineValue:      baseline.Value,
		LatestPeriod:       latest.Period,
		LatestValue:        latest.Value,
		PercentChange:      percentChange,
		PeakPeriod:         peak.Period,
		PeakValue:          peak.Value,
		RecentWindow:       window,
		RecentWindowChange: recentChange,
		ForecastPoints:     forecast,
		Unit:               latest.Unit,
	}, nil
}

// olsFit returns the least squares line for value against row index.
func olsFit(rows models.ObservationTable) (slope, intercept float64) {
	n := float64(len(rows))
	var sumX, sumY, sumXY, sumXX float64
	for i, row := range rows {
		x := float64(i)
		sumX += x
		sumY += row.Value
		sumXY += x * row.Value
		sumXX += x * x
	}
	slope = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
