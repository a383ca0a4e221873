// Package scoring holds the pure ranking math: IPR computation and the
// technical queue ordering. Nothing here touches storage.
package scoring

import (
	"errors"
	"fmt"
)

// ErrComplexityUnset is returned when an IPR is requested for a project
// that has not been through complexity diagnosis yet.
var ErrComplexityUnset = errors.New("complexity not set")

// Weights are the multipliers applied to the three 1..10 input scores.
type Weights struct {
	Impact  int
	Urgency int
	Cost    int
}

// Inputs are the raw factors the IPR is derived from. Complexity is the
// diagnosed tier name; empty means undiagnosed.
type Inputs struct {
	Impact     int
	Urgency    int
	Cost       int
	Complexity string
}

// ComputeIPR returns the priority score:
//
//	(impact*wI + urgency*wU + cost*wC) / divisor(complexity)
//
// Scores outside 1..10 or an unknown complexity tier are rejected.
func ComputeIPR(in Inputs, w Weights, divisors map[string]float64) (float64, error) {
	for _, s := range []struct {
		name  string
		value int
	}{
		{"impact", in.Impact},
		{"urgency", in.Urgency},
		{"cost", in.Cost},
	} {
		if s.value < 1 || s.value > 10 {
			return 0, fmt.Errorf("%s score %d out of range 1..10", s.name, s.value)
		}
	}
	if in.Complexity == "" {
		return 0, ErrComplexityUnset
	}
	divisor, ok := divisors[in.Complexity]
	if !ok {
		return 0, fmt.Errorf("unknown complexity %q", in.Complexity)
	}
	if divisor <= 0 {
		return 0, fmt.Errorf("divisor for %s must be positive", in.Complexity)
	}
	weighted := float64(in.Impact*w.Impact + in.Urgency*w.Urgency + in.Cost*w.Cost)
	return weighted / divisor, nil
}
