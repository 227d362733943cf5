package normalize

import (
	"errors"
	"fmt"
)

// ErrUnknownUnit marks a raw unit string with no canonical mapping.
// The mapping must be total: an unmapped unit fails the source's run
// rather than passing un-normalized values downstream.
var ErrUnknownUnit = errors.New("unknown unit")

type unitMapping struct {
	canonical string
	scale     float64
}

// unitTable maps every raw unit string the providers emit onto a canonical
// unit with an exact scale factor. Emissions canonicalize to megatonnes of
// CO2 equivalents, energy to gigawatt hours.
var unitTable = map[string]unitMapping{
	"Mt CO2eq": {"Mt CO2eq", 1},
	"kt CO2eq": {"Mt CO2eq", 0.001},
	"t CO2eq":  {"Mt CO2eq", 1e-6},

	"GWh": {"GWh", 1},
	"MWh": {"GWh", 1e-3},
	"kWh": {"GWh", 1e-6},
}

// canonicalUnit converts a raw value into its canonical unit.
func canonicalUnit(rawUnit string, value float64) (string, float64, error) {
	m, ok := unitTable[rawUnit]
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownUnit, rawUnit)
	}
	return m.canonical, value * m.scale, nil
}
