package problem

import "fmt"

// MalformedModelError indicates a structurally invalid problem instance.
// It is fatal and must surface before any sampling begins.
type MalformedModelError struct {
	Model  string
	Reason string
}

func (e *MalformedModelError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("malformed model: %s", e.Reason)
	}
	return fmt.Sprintf("malformed model %q: %s", e.Model, e.Reason)
}
