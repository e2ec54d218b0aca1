package pipeline

import (
	"strconv"

	"github.com/snarg/mtc-agent/internal/model"
)

// conversionFactors is a small built-in unit conversion table, applied
// when an adapter's conversionRequired option is set: the adapter
// reports in its native units and the agent converts to the units the
// data item declares. MTConnect devices report a closed, well-known set
// of units, so a flat multiplicative table covers the common cases.
var conversionFactors = map[string]float64{
	"INCH": 25.4,  // -> MILLIMETER
	"FOOT": 304.8, // -> MILLIMETER
}

// convert parses raw as a float64 whatever item.Type is and, if
// conversionRequired, applies the conversion for item.Units. A value
// that does not parse as a number (strings, enums, conditions) passes
// through unconverted as a string.
func convert(item *model.DataItem, raw string, conversionRequired bool) (any, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// Not a numeric SAMPLE value; treat as an opaque string (EVENT,
		// CONDITION, or enumerated SAMPLE).
		return raw, nil
	}

	if !conversionRequired {
		return f, nil
	}

	switch item.Units {
	case "MILLIMETER", "MILLIMETER/SECOND", "MILLIMETER/SECOND^2":
		if factor, ok := conversionFactors["INCH"]; ok {
			return f * factor, nil
		}
	case "CELSIUS":
		return (f - 32) * 5 / 9, nil
	}
	return f, nil
}
