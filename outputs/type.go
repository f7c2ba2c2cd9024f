package outputs

import "github.com/flokli/rgb-strand-agent/led"

// Driver is a led.Sink backed by real (or simulated) hardware.
type Driver interface {
	led.Sink

	// Flush pushes levels written since the last flush to the hardware.
	// Drivers writing through immediately return nil.
	Flush() error
	// Close turns all outputs off and releases the hardware.
	Close() error
	String() string
}
