package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenpulse/greenpulse/internal/models"
)

func ssbRecord(t *testing.T, years []int, values []any) *models.RawRecord {
	t.Helper()

	index := make(map[string]int, len(years))
	label := make(map[string]string, len(years))
	for i, y := range years {
		index[fmt.Sprint(y)] = i
		label[fmt.Sprint(y)] = fmt.Sprint(y)
	}

	payload := map[string]any{
		"label":  "Greenhouse gases, total",
		"source": "Statistics Norway",
		"dimension": map[string]any{
			"Tid": map[string]any{
				"category": map[string]any{
					"index": index,
					"label": label,
				},
			},
		},
		"value": values,
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return &models.RawRecord{
		Source:    "ssb",
		Endpoint:  "https://data.ssb.no/api/v0/en/table/13931",
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:   data,
	}
}

func TestNormalizeSSB(t *testing.T) {
	raw := ssbRecord(t, []int{2000, 2010, 2020}, []any{52000.0, 55000.0, 48000.0})

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 3)

	// kt CO2eq canonicalizes to Mt CO2eq with an exact 0.001 factor.
	assert.Equal(t, models.ObservationRow{
		EntityID: "Norway",
		Period:   2000,
		Value:    52.0,
		Unit:     "Mt CO2eq",
		Category: "emissions",
		Source:   "ssb",
	}, table[0])
	assert.Equal(t, 2010, table[1].Period)
	assert.Equal(t, 55.0, table[1].Value)
	assert.Equal(t, 2020, table[2].Period)
	assert.Equal(t, 48.0, table[2].Value)
}

func TestNormalizeUnitScaling(t *testing.T) {
	raw := ssbRecord(t, []int{2023}, []any{45000.0})

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, "Mt CO2eq", table[0].Unit)
	assert.Equal(t, 45.0, table[0].Value)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := ssbRecord(t, []int{1990, 1991, 1992, 1993}, []any{50.0, 51.0, 52.0, 49.0})

	first, err := Normalize(raw)
	require.NoError(t, err)
	second, err := Normalize(raw)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestNormalizeSSBSkipsNullValues(t *testing.T) {
	raw := ssbRecord(t, []int{2021, 2022, 2023}, []any{40000.0, 41000.0, nil})

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, 2022, table[len(table)-1].Period)
}

func TestNormalizeSSBSchemaViolations(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantText string
	}{
		{
			name:     "missing time dimension",
			payload:  `{"value": [1.0]}`,
			wantText: "dimension.Tid.category.index",
		},
		{
			name:     "missing values",
			payload:  `{"dimension":{"Tid":{"category":{"index":{"2020":0},"label":{"2020":"2020"}}}}}`,
			wantText: `"value"`,
		},
		{
			name:     "length mismatch",
			payload:  `{"dimension":{"Tid":{"category":{"index":{"2020":0,"2021":1},"label":{}}}},"value":[1.0]}`,
			wantText: "does not match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &models.RawRecord{Source: "ssb", Payload: json.RawMessage(tt.payload)}
			_, err := Normalize(raw)
			require.ErrorIs(t, err, ErrSchemaViolation)
			assert.Contains(t, err.Error(), tt.wantText)
		})
	}
}

func TestNormalizeUnknownSource(t *testing.T) {
	raw := &models.RawRecord{Source: "nve", Payload: json.RawMessage(`{}`)}
	_, err := Normalize(raw)
	require.ErrorIs(t, err, ErrSchemaViolation)
	assert.Contains(t, err.Error(), "nve")
}

func TestNormalizeElhub(t *testing.T) {
	payload := `{
		"data": [
			{
				"id": "NO1",
				"attributes": {
					"country": "Norway",
					"consumptionPerGroupMbaHour": [
						{"startTime": "2023-01-01T00:00:00Z", "priceArea": "NO1", "consumptionGroup": "household", "quantityKwh": 1500000},
						{"startTime": "2023-01-01T01:00:00Z", "priceArea": "NO1", "consumptionGroup": "household", "quantityKwh": 500000},
						{"startTime": "2024-01-01T00:00:00Z", "priceArea": "NO1", "consumptionGroup": "household", "quantityKwh": 3000000}
					]
				}
			},
			{
				"id": "NO2",
				"attributes": {
					"country": "Norway",
					"consumptionPerGroupMbaHour": [
						{"startTime": "2023-06-01T00:00:00Z", "priceArea": "NO2", "consumptionGroup": "industry", "quantityKwh": 4000000}
					]
				}
			}
		]
	}`
	raw := &models.RawRecord{Source: "elhub", Payload: json.RawMessage(payload)}

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 3)

	// Hourly kWh readings aggregate to yearly GWh per price area.
	assert.Equal(t, "NO1", table[0].EntityID)
	assert.Equal(t, 2023, table[0].Period)
	assert.InDelta(t, 2.0, table[0].Value, 1e-9)
	assert.Equal(t, "GWh", table[0].Unit)
	assert.Equal(t, "consumption", table[0].Category)

	assert.Equal(t, "NO1", table[1].EntityID)
	assert.Equal(t, 2024, table[1].Period)
	assert.InDelta(t, 3.0, table[1].Value, 1e-9)

	assert.Equal(t, "NO2", table[2].EntityID)
	assert.InDelta(t, 4.0, table[2].Value, 1e-9)
}

func TestNormalizeElhubMissingPriceArea(t *testing.T) {
	payload := `{"data":[{"id":"x","attributes":{"consumptionPerGroupMbaHour":[{"startTime":"2023-01-01T00:00:00Z","quantityKwh":1}]}}]}`
	raw := &models.RawRecord{Source: "elhub", Payload: json.RawMessage(payload)}

	_, err := Normalize(raw)
	require.ErrorIs(t, err, ErrSchemaViolation)
	assert.Contains(t, err.Error(), "priceArea")
}

func TestNormalizeEnova(t *testing.T) {
	payload := `{
		"projects": [
			{"year": 2022, "category": "industry", "energyResultKwh": 10000000, "projectCount": 12},
			{"year": 2022, "category": "transport", "energyResultKwh": 5000000, "projectCount": 4},
			{"year": 2023, "category": "industry", "energyResultKwh": 20000000, "projectCount": 9}
		]
	}`
	raw := &models.RawRecord{Source: "enova", Payload: json.RawMessage(payload)}

	table, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, 2022, table[0].Period)
	assert.InDelta(t, 15.0, table[0].Value, 1e-9)
	assert.Equal(t, "GWh", table[0].Unit)
	assert.Equal(t, "energy-savings", table[0].Category)
	assert.Equal(t, 2023, table[1].Period)
	assert.InDelta(t, 20.0, table[1].Value, 1e-9)
}

func TestCanonicalUnitTotality(t *testing.T) {
	_, _, err := canonicalUnit("bogus unit", 1.0)
	require.ErrorIs(t, err, ErrUnknownUnit)

	unit, value, err := canonicalUnit("MWh", 2500)
	require.NoError(t, err)
	assert.Equal(t, "GWh", unit)
	assert.InDelta(t, 2.5, value, 1e-12)
}
