package problem

import (
	"encoding/json"
	"math"
)

// constraintWire is the serialized form of Constraint. Open bound sides are
// omitted because JSON cannot carry infinities.
type constraintWire struct {
	Name         string    `json:"name"`
	Coefficients []float64 `json:"coefficients"`
	Lower        *float64  `json:"lower,omitempty"`
	Upper        *float64  `json:"upper,omitempty"`
}

func (c Constraint) MarshalJSON() ([]byte, error) {
	w := constraintWire{Name: c.Name, Coefficients: c.Coefficients}
	if !math.IsInf(c.Lower, -1) {
		lo := c.Lower
		w.Lower = &lo
	}
	if !math.IsInf(c.Upper, 1) {
		hi := c.Upper
		w.Upper = &hi
	}
	return json.Marshal(w)
}

func (c *Constraint) UnmarshalJSON(data []byte) error {
	var w constraintWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Name = w.Name
	c.Coefficients = w.Coefficients
	c.Lower = math.Inf(-1)
	c.Upper = math.Inf(1)
	if w.Lower != nil {
		c.Lower = *w.Lower
	}
	if w.Upper != nil {
		c.Upper = *w.Upper
	}
	return nil
}

// UnmarshalJSON rebuilds the variable index, which is not serialized.
func (m *Model) UnmarshalJSON(data []byte) error {
	type alias Model
	aux := (*alias)(m)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	m.index = make(map[string]int, len(m.Variables))
	for i, v := range m.Variables {
		m.index[v] = i
	}
	return nil
}
