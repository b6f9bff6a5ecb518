package hcircuit

import (
	"fmt"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
)

// BilinearLaw maps outdoor temperature to base water temperature through
// two configured points and an nH100 curvature parameter. The curve is two
// linear segments joined at an inflection point at the outdoor midpoint;
// nH100 = 100 is a straight line, larger values raise the inflection water
// temperature by (nH100-100)% of a quarter of the water span, bowing the
// curve upward the way radiator emission characteristics demand.
type BilinearLaw struct {
	Tout1   temp.Temp
	Twater1 temp.Temp
	Tout2   temp.Temp
	Twater2 temp.Temp
	NH100   int
}

func (l BilinearLaw) validate() error {
	if l.Tout1 >= l.Tout2 {
		return fmt.Errorf("tlaw: tout1 must be below tout2: %w", errs.ErrMisconfigured)
	}
	if l.Twater1 <= l.Twater2 {
		return fmt.Errorf("tlaw: twater1 must be above twater2: %w", errs.ErrMisconfigured)
	}
	if l.NH100 < 100 || l.NH100 > 300 {
		return fmt.Errorf("tlaw: nH100 out of [100,300]: %w", errs.ErrMisconfigured)
	}
	return nil
}

// Water computes the base water temperature for an outdoor temperature.
func (l BilinearLaw) Water(outdoor temp.Temp) temp.Temp {
	// straight line through the two configured points
	lerp := func(x1, y1, x2, y2, x temp.Temp) temp.Temp {
		return y1 + temp.Temp(int64(y2-y1)*int64(x-x1)/int64(x2-x1))
	}
	if l.NH100 == 100 {
		return lerp(l.Tout1, l.Twater1, l.Tout2, l.Twater2, outdoor)
	}

	toutInfl := (l.Tout1 + l.Tout2) / 2
	span := l.Twater1 - l.Twater2
	raise := temp.Temp(int64(span) / 4 * int64(l.NH100-100) / 100)
	waterInfl := lerp(l.Tout1, l.Twater1, l.Tout2, l.Twater2, toutInfl) + raise

	if outdoor <= toutInfl {
		return lerp(l.Tout1, l.Twater1, toutInfl, waterInfl, outdoor)
	}
	return lerp(toutInfl, waterInfl, l.Tout2, l.Twater2, outdoor)
}
