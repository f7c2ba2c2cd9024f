package led

import (
	"fmt"
	"math"
	"strconv"

	log "github.com/sirupsen/logrus"
)

const (
	Red = iota
	Green
	Blue

	numChannels = 3
)

// Sink is where a unit writes the rendered level of each of its outputs.
// Outputs are identified by the integers the unit was created with
// (pin numbers, or pixel byte offsets for frame based sinks).
type Sink interface {
	// Setup configures the given output for writing.
	Setup(output int) error
	// Set writes a level in [0,255] to the output.
	Set(output int, level float64) error
}

// ChannelState is a snapshot of the ramp state of one channel.
type ChannelState struct {
	Current float64
	Target  float64
	Step    float64
	Tick    int
}

// Unit is one independently controlled group of red, green and blue outputs.
type Unit struct {
	index    int
	topic    string
	outputs  [numChannels]int
	sink     Sink
	settings *Settings

	isOn       bool
	brightness [numChannels]int
	scale      [numChannels]float64

	current [numChannels]float64
	target  [numChannels]float64
	step    [numChannels]float64
	tick    [numChannels]int
}

// NewUnit creates the unit with topic base+index, and configures its three
// outputs on the sink. The unit starts off and at rest at zero.
func NewUnit(base string, index int, outputs [3]int, sink Sink, settings *Settings) (*Unit, error) {
	u := &Unit{
		index:    index,
		topic:    base + strconv.Itoa(index),
		outputs:  outputs,
		sink:     sink,
		settings: settings,
	}
	for i := 0; i < numChannels; i++ {
		u.brightness[i] = 255
		u.scale[i] = 1
	}

	for _, output := range outputs {
		if err := sink.Setup(output); err != nil {
			return nil, fmt.Errorf("unable to setup output %d of unit %d: %w", output, index, err)
		}
	}

	return u, nil
}

func (u *Unit) Index() int { return u.index }

func (u *Unit) Topic() string { return u.topic }

func (u *Unit) SetTopic(topic string) { u.topic = topic }

func (u *Unit) IsOn() bool { return u.isOn }

func (u *Unit) SetOn(on bool) { u.isOn = on }

// Channel returns the ramp state of channel i (Red, Green or Blue).
func (u *Unit) Channel(i int) ChannelState {
	return ChannelState{
		Current: u.current[i],
		Target:  u.target[i],
		Step:    u.step[i],
		Tick:    u.tick[i],
	}
}

// Ramping returns the number of channels that have not reached their target.
func (u *Unit) Ramping() int {
	n := 0
	for i := 0; i < numChannels; i++ {
		if u.step[i] != 0 {
			n++
		}
	}
	return n
}

// Tick advances every channel by one ramp step and renders it.
func (u *Unit) Tick() {
	for i := 0; i < numChannels; i++ {
		if u.step[i] != 0 {
			// the target may have moved to the other side since the step was computed.
			if (u.target[i] > u.current[i] && u.step[i] < 0) ||
				(u.target[i] < u.current[i] && u.step[i] > 0) {
				u.step[i] = -u.step[i]
			}

			if math.Abs(u.current[i]-u.target[i]) <= math.Abs(u.step[i]) {
				u.step[i] = 0
				u.current[i] = u.target[i]
				u.tick[i] = 0
			} else {
				u.current[i] += u.step[i]
				u.tick[i]++
			}
		}
		u.render(i)
	}
}

func (u *Unit) render(i int) {
	level := Gamma(u.current[i], u.settings.RampCoefficient)
	if err := u.sink.Set(u.outputs[i], level); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"index":  u.index,
			"output": u.outputs[i],
		}).Warn("unable to write output")
	}
}

// Gamma maps a linear level in [0,255] onto the output curve
// 255 * (level/255)^coefficient. Negative levels render as 0.
func Gamma(level, coefficient float64) float64 {
	return 255 * math.Pow(math.Max(level/255.0, 0), coefficient)
}

// Brightness returns the apparent brightness, the largest commanded
// brightness*scale over the three channels. It ignores the ramp position.
func (u *Unit) Brightness() float64 {
	return math.Max(u.Red(), math.Max(u.Green(), u.Blue()))
}

func (u *Unit) Red() float64 { return float64(u.brightness[Red]) * u.scale[Red] }

func (u *Unit) Green() float64 { return float64(u.brightness[Green]) * u.scale[Green] }

func (u *Unit) Blue() float64 { return float64(u.brightness[Blue]) * u.scale[Blue] }

// SetBrightness rescales all channels so the apparent brightness becomes b.
// With an apparent brightness of zero the channels are left as they are.
func (u *Unit) SetBrightness(b int) {
	current := u.Brightness()
	s := 1.0
	if current != 0 {
		s = float64(b) / current
	}

	for i := 0; i < numChannels; i++ {
		u.brightness[i] = int(math.Round(clamp(s*float64(u.brightness[i]), 0, 255)))
	}
}

// SetColor replaces the commanded brightness of each channel. Values are
// stored as given.
func (u *Unit) SetColor(r, g, b int) {
	u.brightness[Red] = r
	u.brightness[Green] = g
	u.brightness[Blue] = b
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
