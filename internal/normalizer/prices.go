package normalizer

import "strings"

// Cabin classes tracked per sailing.
const (
	cabinInterior  = "inside"
	cabinOceanview = "outside"
	cabinBalcony   = "balcony"
	cabinSuite     = "suite"
)

// rivieraLineID reports prices scaled by 1000 in the feed. The correction is
// keyed on this one line id; it is not a unit-detection heuristic.
const rivieraLineID = 643

// Prices holds the four per-cabin-class prices of a sailing. A nil field
// means the feed supplied no usable price for that class.
type Prices struct {
	Interior  *float64
	Oceanview *float64
	Balcony   *float64
	Suite     *float64
}

// extractPrices pulls cabin-class prices out of a raw record using a strict
// priority order per class:
//
//  1. the direct cheapestinside/cheapestoutside/cheapestbalcony/cheapestsuite
//     fields,
//  2. the structured per-rate-code "prices" table (lowest positive price per
//     class).
//
// A later source is consulted only when every earlier one yielded nothing for
// that specific class. The "cachedprices" block is never read: it mirrors live
// pricing this pipeline has no authority over and is known to go stale.
func extractPrices(doc map[string]any, lineID uint) Prices {
	direct := map[string]*float64{
		cabinInterior:  positiveOrNil(floatOrNil(doc["cheapestinside"])),
		cabinOceanview: positiveOrNil(floatOrNil(doc["cheapestoutside"])),
		cabinBalcony:   positiveOrNil(floatOrNil(doc["cheapestbalcony"])),
		cabinSuite:     positiveOrNil(floatOrNil(doc["cheapestsuite"])),
	}

	table := lowestTablePrices(doc["prices"])

	pick := func(class string) *float64 {
		if p := direct[class]; p != nil {
			return p
		}
		return table[class]
	}

	p := Prices{
		Interior:  pick(cabinInterior),
		Oceanview: pick(cabinOceanview),
		Balcony:   pick(cabinBalcony),
		Suite:     pick(cabinSuite),
	}

	if lineID == rivieraLineID {
		p.Interior = scaleDown(p.Interior)
		p.Oceanview = scaleDown(p.Oceanview)
		p.Balcony = scaleDown(p.Balcony)
		p.Suite = scaleDown(p.Suite)
	}
	return p
}

// lowestTablePrices walks the nested prices table
// {ratecode: {cabincode: {cabintype, price}}} and keeps the lowest positive
// price per cabin class.
func lowestTablePrices(raw any) map[string]*float64 {
	out := map[string]*float64{}
	rates, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for _, rate := range rates {
		cabins, ok := rate.(map[string]any)
		if !ok {
			continue
		}
		for _, cabin := range cabins {
			fields, ok := cabin.(map[string]any)
			if !ok {
				continue
			}
			class := cabinClass(stringOr(fields["cabintype"], ""))
			if class == "" {
				continue
			}
			price := positiveOrNil(floatOrNil(fields["price"]))
			if price == nil {
				continue
			}
			if cur := out[class]; cur == nil || *price < *cur {
				out[class] = price
			}
		}
	}
	return out
}

// cabinClass maps feed cabin type strings onto the four tracked classes.
func cabinClass(raw string) string {
	switch strings.ToLower(raw) {
	case "inside", "interior":
		return cabinInterior
	case "outside", "oceanview", "ocean view":
		return cabinOceanview
	case "balcony":
		return cabinBalcony
	case "suite":
		return cabinSuite
	}
	return ""
}

// Cheapest returns the minimum of the known class prices, excluding nil
// entries rather than treating them as zero. All-nil yields nil.
func (p Prices) Cheapest() *float64 {
	var min *float64
	for _, candidate := range []*float64{p.Interior, p.Oceanview, p.Balcony, p.Suite} {
		if candidate == nil {
			continue
		}
		if min == nil || *candidate < *min {
			v := *candidate
			min = &v
		}
	}
	return min
}

func positiveOrNil(p *float64) *float64 {
	if p == nil || *p <= 0 {
		return nil
	}
	return p
}

func scaleDown(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p / 1000
	return &v
}
