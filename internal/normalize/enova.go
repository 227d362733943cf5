package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/greenpulse/greenpulse/internal/models"
)

type enovaPayload struct {
	Projects []struct {
		Year            int     `json:"year"`
		Category        string  `json:"category"`
		EnergyResultKwh float64 `json:"energyResultKwh"`
		ProjectCount    int     `json:"projectCount"`
	} `json:"projects"`
}

// normalizeEnova sums supported projects' energy results into one yearly
// savings series.
func normalizeEnova(raw *models.RawRecord) (models.ObservationTable, error) {
	var payload enovaPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding enova response: %v", ErrSchemaViolation, err)
	}
	if len(payload.Projects) == 0 {
		return nil, missingField("projects")
	}

	totals := make(map[int]float64)
	for _, p := range payload.Projects {
		if p.Year == 0 {
			return nil, missingField("year")
		}
		totals[p.Year] += p.EnergyResultKwh
	}

	rows := make(models.ObservationTable, 0, len(totals))
	for year, kwh := range totals {
		unit, scaled, err := canonicalUnit("kWh", kwh)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.ObservationRow{
			EntityID: "Norway",
			Period:   year,
			Value:    scaled,
			Unit:     unit,
			Category: "energy-savings",
			Source:   raw.Source,
		})
	}

	return finalize(rows)
}
