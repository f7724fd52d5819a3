//go:build !linux || (!arm && !arm64)

package led

import "fmt"

var openGPIOFn = func(pin int) (Driver, error) {
	if _, err := lineName(pin); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("led: gpio unsupported on this platform")
}
