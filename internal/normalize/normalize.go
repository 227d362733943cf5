// Package normalize converts provider-shaped raw records into the common
// observation schema. Normalization is a pure function of its input: no
// I/O happens here, and the same raw record always yields the same table.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/greenpulse/greenpulse/internal/models"
)

// ErrSchemaViolation marks raw records missing required fields. Fatal for
// that source's run.
var ErrSchemaViolation = errors.New("schema violation")

func missingField(name string) error {
	return fmt.Errorf("%w: missing field %q", ErrSchemaViolation, name)
}

// Normalize dispatches to the explicit parser for the record's provider.
func Normalize(raw *models.RawRecord) (models.ObservationTable, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil raw record", ErrSchemaViolation)
	}
	if len(raw.Payload) == 0 {
		return nil, missingField("payload")
	}

	switch raw.Source {
	case "ssb":
		return normalizeSSB(raw)
	case "elhub":
		return normalizeElhub(raw)
	case "enova":
		return normalizeEnova(raw)
	default:
		return nil, fmt.Errorf("%w: no parser for source %q", ErrSchemaViolation, raw.Source)
	}
}

// finalize orders rows by entity, category, period and enforces the table
// invariants: finite values and unique periods per entity+category.
func finalize(rows models.ObservationTable) (models.ObservationTable, error) {
	for _, row := range rows {
		if math.IsNaN(row.Value) || math.IsInf(row.Value, 0) {
			return nil, fmt.Errorf("%w: non-finite value for %s/%s period %d",
				ErrSchemaViolation, row.EntityID, row.Category, row.Period)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].EntityID != rows[j].EntityID {
			return rows[i].EntityID < rows[j].EntityID
		}
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Period < rows[j].Period
	})

	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if prev.EntityID == cur.EntityID && prev.Category == cur.Category && prev.Period == cur.Period {
			return nil, fmt.Errorf("%w: duplicate period %d for %s/%s",
				ErrSchemaViolation, cur.Period, cur.EntityID, cur.Category)
		}
	}

	return rows, nil
}
