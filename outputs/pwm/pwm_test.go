package pwm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

func newTestSink(pins ...*gpiotest.Pin) *Sink {
	s := New(physic.KiloHertz)
	byName := make(map[string]gpio.PinIO)
	for _, p := range pins {
		byName[p.N] = p
	}
	s.lookup = func(name string) gpio.PinIO {
		if p, found := byName[name]; found {
			return p
		}
		return nil
	}
	return s
}

func TestDuty(t *testing.T) {
	assert.Equal(t, gpio.Duty(0), Duty(0))
	assert.Equal(t, gpio.DutyMax, Duty(255))
	assert.Equal(t, gpio.DutyHalf, Duty(127.5))
	assert.Equal(t, gpio.Duty(0), Duty(-3))
	assert.Equal(t, gpio.DutyMax, Duty(300))
}

func TestSink(t *testing.T) {
	red := &gpiotest.Pin{N: "5", Num: 5, L: gpio.High}
	s := newTestSink(red)

	require.NoError(t, s.Setup(5))
	assert.Equal(t, gpio.Low, red.L)

	require.NoError(t, s.Set(5, 255))
	assert.Equal(t, gpio.DutyMax, red.D)
	assert.Equal(t, physic.KiloHertz, red.F)

	require.NoError(t, s.Set(5, 0))
	assert.Equal(t, gpio.Duty(0), red.D)

	assert.NoError(t, s.Flush())
	assert.NoError(t, s.Close())
}

func TestSinkErrors(t *testing.T) {
	s := newTestSink()

	assert.Error(t, s.Setup(4))
	assert.Error(t, s.Set(4, 10))
}
