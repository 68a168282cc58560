// Package trigger provides the physical input that starts a capture and the
// indicator output that shows the pipeline is busy.
package trigger

// Input is a level-sampled trigger
type Input interface {
	// IsActive reports whether the trigger is currently asserted
	IsActive() bool
}

// Output is a binary indicator
type Output interface {
	// Set drives the indicator on or off
	Set(on bool) error
}

// NopOutput is an Output that does nothing, used when no indicator is configured
type NopOutput struct{}

// Set implements Output
func (NopOutput) Set(bool) error { return nil }

// MultiOutput drives several indicators together and returns the first error
type MultiOutput []Output

// Set implements Output
func (m MultiOutput) Set(on bool) error {
	var first error
	for _, o := range m {
		if err := o.Set(on); err != nil && first == nil {
			first = err
		}
	}
	return first
}
