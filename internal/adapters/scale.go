package adapters

import "github.com/Rajchodisetti/commodity-dashboard/internal/market"

// Scaler maps proxy fund prices onto approximate commodity price levels.
// The multipliers are fixed approximations; they do not track fund NAV drift.
type Scaler struct {
	factors map[string]float64
}

// NewScaler takes the multipliers from the instrument table. Instruments with a
// non-positive Scale are left unscaled.
func NewScaler(instruments []market.Instrument) *Scaler {
	factors := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		if inst.Scale > 0 {
			factors[inst.Key] = inst.Scale
		}
	}
	return &Scaler{factors: factors}
}

// Scale returns proxyPrice times the instrument's multiplier, or proxyPrice
// unchanged for an unknown key.
func (s *Scaler) Scale(key string, proxyPrice float64) float64 {
	if f, ok := s.factors[key]; ok {
		return proxyPrice * f
	}
	return proxyPrice
}

// ScalePoints scales a window in place and returns it
func (s *Scaler) ScalePoints(key string, points []market.Point) []market.Point {
	for i := range points {
		points[i].Price = s.Scale(key, points[i].Price)
	}
	return points
}
