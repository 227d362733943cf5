package models

import (
	"encoding/json"
	"time"
)

// RawRecord is an unprocessed, provider-shaped API response together with
// its provenance. It is immutable once fetched; the payload is the verbatim
// decoded response body.
type RawRecord struct {
	Source    string          `json:"source"`
	Endpoint  string          `json:"endpoint"`
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// ObservationRow is the normalized unit of data all analysis operates on.
type ObservationRow struct {
	EntityID string  `json:"entity_id"`
	Period   int     `json:"period"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
	Source   string  `json:"source"`
}

// ObservationTable is an ordered sequence of rows sharing a schema.
// Tables are constructed fresh per fetch cycle and never mutated in place.
type ObservationTable []ObservationRow

// Entities returns the distinct entity IDs in table order.
func (t ObservationTable) Entities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range t {
		if _, ok := seen[row.EntityID]; ok {
			continue
		}
		seen[row.EntityID] = struct{}{}
		out = append(out, row.EntityID)
	}
	return out
}

// ForEntity returns a new table holding only the given entity's rows.
func (t ObservationTable) ForEntity(entity string) ObservationTable {
	var out ObservationTable
	for _, row := range t {
		if row.EntityID == entity {
			out = append(out, row)
		}
	}
	return out
}

// ForecastPoint is one projected (period, value) pair.
type ForecastPoint struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

// TrendSummary holds the trend and forecast statistics derived from one
// ObservationTable. It is computed on demand and carries no identity of
// its own.
type TrendSummary struct {
	BaselinePeriod     int             `json:"baseline_period"`
	BaselineValue      float64         `json:"baseline_value"`
	LatestPeriod       int             `json:"latest_period"`
	LatestValue        float64         `json:"latest_value"`
	PercentChange      float64         `json:"percent_change"`
	PeakPeriod         int             `json:"peak_period"`
	PeakValue          float64         `json:"peak_value"`
	RecentWindow       int             `json:"recent_window"`
	RecentWindowChange float64         `json:"recent_window_change"`
	ForecastPoints     []ForecastPoint `json:"forecast_points"`
	Unit               string          `json:"unit"`
}

// FailureKind classifies a per-source failure in a RunReport.
type FailureKind string

const (
	FailureSourceUnavailable FailureKind = "source_unavailable"
	FailureSourceResponse    FailureKind = "source_response"
	FailureSchemaViolation   FailureKind = "schema_violation"
	FailureStorage           FailureKind = "storage"
)

// SourceOutcome records the result of one source's fetch->normalize->persist
// path within a run.
type SourceOutcome struct {
	Success  bool        `json:"success"`
	RowCount int         `json:"row_count,omitempty"`
	Kind     FailureKind `json:"kind,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// RunReport is the per-source outcome record produced by one orchestrator
// invocation. A failure of one source never hides the outcomes of the rest.
type RunReport struct {
	RunID       string                   `json:"run_id"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
	Outcomes    map[string]SourceOutcome `json:"outcomes"`
}

// SuccessCount returns the number of sources that completed their full path.
func (r *RunReport) SuccessCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// FailureCount returns the number of sources that recorded a failure.
func (r *RunReport) FailureCount() int {
	return len(r.Outcomes) - r.SuccessCount()
}
