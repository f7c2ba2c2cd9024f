// Package pwm drives each output as a hardware or software PWM GPIO.
package pwm

import (
	"fmt"
	"math"
	"strconv"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

// Sink writes levels as PWM duty cycles. Outputs are GPIO numbers.
type Sink struct {
	freq   physic.Frequency
	lookup func(name string) gpio.PinIO
	pins   map[int]gpio.PinIO
}

// New returns a Sink using pins from the periph registry. host.Init() must
// have been called before.
func New(freq physic.Frequency) *Sink {
	return &Sink{
		freq:   freq,
		lookup: gpioreg.ByName,
		pins:   make(map[int]gpio.PinIO),
	}
}

// Setup implements led.Sink.
func (s *Sink) Setup(output int) error {
	p := s.lookup(strconv.Itoa(output))
	if p == nil {
		return fmt.Errorf("unable to find gpio %d", output)
	}
	if err := p.Out(gpio.Low); err != nil {
		return fmt.Errorf("unable to set gpio %d as output: %w", output, err)
	}
	s.pins[output] = p

	log.WithFields(log.Fields{
		"gpio": output,
		"pin":  p.Name(),
	}).Debug("configured output")
	return nil
}

// Set implements led.Sink.
func (s *Sink) Set(output int, level float64) error {
	p, found := s.pins[output]
	if !found {
		return fmt.Errorf("gpio %d was not set up", output)
	}
	return p.PWM(Duty(level), s.freq)
}

// Duty converts a level in [0,255] to a duty cycle.
func Duty(level float64) gpio.Duty {
	level = math.Min(math.Max(level, 0), 255)
	return gpio.Duty(math.Round(level / 255 * float64(gpio.DutyMax)))
}

func (s *Sink) Flush() error { return nil }

func (s *Sink) Close() error {
	var firstErr error
	for output, p := range s.pins {
		if err := p.Out(gpio.Low); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unable to turn off gpio %d: %w", output, err)
		}
		if err := p.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unable to halt gpio %d: %w", output, err)
		}
	}
	return firstErr
}

func (s *Sink) String() string {
	return fmt.Sprintf("pwm@%s", s.freq)
}
