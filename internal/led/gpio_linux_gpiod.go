//go:build linux && (arm || arm64)

package led

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "gpsmixer-led"

var openGPIOFn = openGPIO

// openGPIO requests the named line on whichever chip carries it, so the same
// BCM number works on Pi models whose header sits on gpiochip0 or gpiochip4.
func openGPIO(pin int) (Driver, error) {
	name, err := lineName(pin)
	if err != nil {
		return nil, err
	}
	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		return nil, fmt.Errorf("led: find %s: %w", name, err)
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("led: request %s on %s: %w", name, chip, err)
	}
	return &lineDriver{line: line}, nil
}

type lineDriver struct {
	line *gpiocdev.Line
}

func (d *lineDriver) Set(on bool) error {
	if d.line == nil {
		return fmt.Errorf("led: line closed")
	}
	return d.line.SetValue(level(on))
}

func (d *lineDriver) Close() error {
	if d.line == nil {
		return nil
	}
	_ = d.line.SetValue(0)
	err := d.line.Close()
	d.line = nil
	return err
}
