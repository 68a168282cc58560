package trigger

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// Default pin names on a Raspberry Pi header
const (
	DefaultInputPin  = "GPIO22"
	DefaultOutputPin = "GPIO24"
)

// PinInput samples a GPIO line configured as input
type PinInput struct {
	pin    gpio.PinIO
	active gpio.Level
}

// OpenInput acquires the named line as an input.
// An active-high line is pulled down, an active-low line is pulled up.
func OpenInput(name string, activeHigh bool) (*PinInput, error) {
	pin, err := lookup(name)
	if err != nil {
		return nil, err
	}

	pull := gpio.PullDown
	if !activeHigh {
		pull = gpio.PullUp
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, fault.New(fault.DeviceUnavailable, "gpio.input", fmt.Errorf("failed to configure %s as input: %w", name, err))
	}

	return &PinInput{pin: pin, active: gpio.Level(activeHigh)}, nil
}

// IsActive implements Input
func (p *PinInput) IsActive() bool {
	return p.pin.Read() == p.active
}

// Name returns the line name
func (p *PinInput) Name() string {
	return p.pin.Name()
}

// Close releases the line
func (p *PinInput) Close() error {
	return p.pin.Halt()
}

// PinOutput drives a GPIO line configured as output
type PinOutput struct {
	pin gpio.PinIO
}

// OpenOutput acquires the named line as an output, initially low
func OpenOutput(name string) (*PinOutput, error) {
	pin, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if err := pin.Out(gpio.Low); err != nil {
		return nil, fault.New(fault.DeviceUnavailable, "gpio.output", fmt.Errorf("failed to configure %s as output: %w", name, err))
	}

	return &PinOutput{pin: pin}, nil
}

// Set implements Output
func (p *PinOutput) Set(on bool) error {
	if err := p.pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("failed to drive %s: %w", p.pin.Name(), err)
	}
	return nil
}

// Name returns the line name
func (p *PinOutput) Name() string {
	return p.pin.Name()
}

// Close drives the line low and releases it
func (p *PinOutput) Close() error {
	if err := p.pin.Out(gpio.Low); err != nil {
		return err
	}
	return p.pin.Halt()
}

func lookup(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fault.New(fault.DeviceUnavailable, "gpio.init", fmt.Errorf("failed to initialize host drivers: %w", err))
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fault.Errorf(fault.DeviceUnavailable, "gpio.lookup", "no GPIO line named %q", name)
	}
	return pin, nil
}
