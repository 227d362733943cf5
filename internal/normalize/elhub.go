package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenpulse/greenpulse/internal/models"
)

type elhubPayload struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Country                    string `json:"country"`
			ConsumptionPerGroupMbaHour []struct {
				StartTime        string  `json:"startTime"`
				PriceArea        string  `json:"priceArea"`
				ConsumptionGroup string  `json:"consumptionGroup"`
				QuantityKwh      float64 `json:"quantityKwh"`
			} `json:"consumptionPerGroupMbaHour"`
		} `json:"attributes"`
	} `json:"data"`
}

// normalizeElhub aggregates hourly consumption readings into yearly totals
// per price area.
func normalizeElhub(raw *models.RawRecord) (models.ObservationTable, error) {
	var payload elhubPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding elhub response: %v", ErrSchemaViolation, err)
	}
	if len(payload.Data) == 0 {
		return nil, missingField("data")
	}

	type key struct {
		area string
		year int
	}
	totals := make(map[key]float64)

	for _, area := range payload.Data {
		for _, rec := range area.Attributes.ConsumptionPerGroupMbaHour {
			if rec.PriceArea == "" {
				return nil, missingField("priceArea")
			}
			if rec.StartTime == "" {
				return nil, missingField("startTime")
			}
			ts, err := time.Parse(time.RFC3339, rec.StartTime)
			if err != nil {
				return nil, fmt.Errorf("%w: startTime %q: %v", ErrSchemaViolation, rec.StartTime, err)
			}
			totals[key{rec.PriceArea, ts.UTC().Year()}] += rec.QuantityKwh
		}
	}

	if len(totals) == 0 {
		return nil, fmt.Errorf("%w: no consumption records in response", ErrSchemaViolation)
	}

	rows := make(models.ObservationTable, 0, len(totals))
	for k, kwh := range totals {
		unit, scaled, err := canonicalUnit("kWh", kwh)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.ObservationRow{
			EntityID: k.area,
			Period:   k.year,
			Value:    scaled,
			Unit:     unit,
			Category: "consumption",
			Source:   raw.Source,
		})
	}

	return finalize(rows)
}
