package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/greenpulse/greenpulse/internal/models"
)

// ssbRawUnit is the unit SSB reports emissions in: thousand tonnes of
// CO2 equivalents.
const ssbRawUnit = "kt CO2eq"

// ssbPayload is the subset of a JSON-stat2 response the normalizer needs:
// the time dimension with its position index, and the value vector.
type ssbPayload struct {
	Label     string `json:"label"`
	Source    string `json:"source"`
	Dimension struct {
		Tid struct {
			Category struct {
				Index map[string]int    `json:"index"`
				Label map[string]string `json:"label"`
			} `json:"category"`
		} `json:"Tid"`
	} `json:"dimension"`
	Value []*float64 `json:"value"`
}

func normalizeSSB(raw *models.RawRecord) (models.ObservationTable, error) {
	var payload ssbPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding json-stat2: %v", ErrSchemaViolation, err)
	}

	index := payload.Dimension.Tid.Category.Index
	if len(index) == 0 {
		return nil, missingField("dimension.Tid.category.index")
	}
	if len(payload.Value) == 0 {
		return nil, missingField("value")
	}
	if len(payload.Value) != len(index) {
		return nil, fmt.Errorf("%w: value count %d does not match %d time periods",
			ErrSchemaViolation, len(payload.Value), len(index))
	}

	rows := make(models.ObservationTable, 0, len(index))
	for code, pos := range index {
		if pos < 0 || pos >= len(payload.Value) {
			return nil, fmt.Errorf("%w: time index %d out of range", ErrSchemaViolation, pos)
		}
		value := payload.Value[pos]
		if value == nil {
			// SSB publishes null for periods without data yet.
			continue
		}

		year, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("%w: time period %q is not a year", ErrSchemaViolation, code)
		}

		unit, scaled, err := canonicalUnit(ssbRawUnit, *value)
		if err != nil {
			return nil, err
		}

		rows = append(rows, models.ObservationRow{
			EntityID: "Norway",
			Period:   year,
			Value:    scaled,
			Unit:     unit,
			Category: "emissions",
			Source:   raw.Source,
		})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: all value entries are null", ErrSchemaViolation)
	}

	return finalize(rows)
}
