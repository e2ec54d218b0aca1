package pipeline

import (
	"fmt"
	"math"

	"github.com/snarg/mtc-agent/internal/model"
)

// validateConstraint applies item's declared constraint, if any, to a
// value already converted by convert(). Enum and range violations are
// reported as ErrConstraintViolation; a filter violation (delta below
// threshold) is reported as ErrFiltered so callers can distinguish a
// dropped-as-uninteresting observation from a genuinely bad one.
func (p *Pipeline) validateConstraint(item *model.DataItem, value any) error {
	c := item.Constraint
	if c == nil {
		return nil
	}

	switch c.Kind {
	case model.ConstraintEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s is not a string value for enum constraint", ErrConstraintViolation, item.ID)
		}
		for _, allowed := range c.Enum {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("%w: %q not in enum for %s", ErrConstraintViolation, s, item.ID)

	case model.ConstraintRange:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: %s is not numeric for range constraint", ErrConstraintViolation, item.ID)
		}
		if f < c.Minimum || f > c.Maximum {
			return fmt.Errorf("%w: %v outside [%v,%v] for %s", ErrConstraintViolation, f, c.Minimum, c.Maximum, item.ID)
		}
		return nil

	case model.ConstraintFilter:
		f, ok := value.(float64)
		if !ok {
			return nil
		}
		prev, found := p.buf.LatestValue(item.ID)
		if !found {
			return nil
		}
		prevVal, ok := prev.Value.(float64)
		if !ok {
			return nil
		}
		if math.Abs(f-prevVal) < c.MinimumDelta {
			return ErrFiltered
		}
		return nil

	default:
		return nil
	}
}
