// Package led shows the number of working receivers on a status LED.
//
// Every cycle the LED advances one step: N working receivers give N short
// blinks followed by a pause. With no working receiver the LED stays off.
package led

import (
	"fmt"
	"time"
)

const DefaultCycle = 200 * time.Millisecond

// pauseCycles is the gap after a blink group.
const pauseCycles = 3

// Driver switches the physical LED.
type Driver interface {
	Set(on bool) error
	Close() error
}

type State struct {
	On        bool   `json:"on"`
	Count     int    `json:"count"`
	LastError string `json:"last_error,omitempty"`
}

type Signal struct {
	drv   Driver
	cycle time.Duration

	lastStep time.Time
	counter  int
	on       bool
	count    int
	lastErr  string
}

func New(drv Driver, cycle time.Duration) *Signal {
	if drv == nil {
		drv = NoopDriver{}
	}
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	return &Signal{drv: drv, cycle: cycle}
}

// Update advances the pattern when a full cycle has elapsed since the last
// step. It reports whether a step was taken.
func (s *Signal) Update(now time.Time, count int) bool {
	if !s.lastStep.IsZero() && now.Sub(s.lastStep) < s.cycle {
		return false
	}
	s.lastStep = now
	s.Step(count)
	return true
}

// Step advances the pattern by one cycle regardless of time.
func (s *Signal) Step(count int) {
	if count < 0 {
		count = 0
	}
	s.count = count

	if count == 0 {
		s.counter = 0
		s.set(false)
		return
	}
	if s.counter > count+pauseCycles {
		s.counter = 0
	}
	if s.counter < count && !s.on {
		s.set(true)
		return
	}
	s.set(false)
	s.counter++
}

func (s *Signal) set(on bool) {
	if on == s.on && s.lastErr == "" {
		return
	}
	s.on = on
	if err := s.drv.Set(on); err != nil {
		s.lastErr = fmt.Sprintf("led set failed: %v", err)
		return
	}
	s.lastErr = ""
}

func (s *Signal) State() State {
	return State{On: s.on, Count: s.count, LastError: s.lastErr}
}

// Close turns the LED off and releases the driver.
func (s *Signal) Close() error {
	_ = s.drv.Set(false)
	s.on = false
	return s.drv.Close()
}

type NoopDriver struct{}

func (NoopDriver) Set(bool) error { return nil }
func (NoopDriver) Close() error   { return nil }

// Open returns the GPIO driver for a BCM pin.
func Open(pin int) (Driver, error) {
	return openGPIOFn(pin)
}

// lineName maps a BCM pin number to the line name the Pi GPIO chips expose.
func lineName(pin int) (string, error) {
	if pin <= 0 || pin > 27 {
		return "", fmt.Errorf("led: invalid gpio pin %d", pin)
	}
	return fmt.Sprintf("GPIO%d", pin), nil
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}
