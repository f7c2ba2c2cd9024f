package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flokli/rgb-strand-agent/events"
	"github.com/flokli/rgb-strand-agent/led"
	"github.com/flokli/rgb-strand-agent/strand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	flushes atomic.Int64
	closed  atomic.Bool
}

func (d *fakeDriver) Setup(int) error { return nil }

func (d *fakeDriver) Set(int, float64) error { return nil }

func (d *fakeDriver) Flush() error {
	d.flushes.Add(1)
	return nil
}

func (d *fakeDriver) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDriver) String() string { return "fake" }

type harness struct {
	server   *Server
	driver   *fakeDriver
	settings *led.Settings
	reloads  chan led.Settings
	states   chan events.StateChanged
	cancel   context.CancelFunc
	done     chan struct{}
}

func start(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		driver:  &fakeDriver{},
		reloads: make(chan led.Settings),
		states:  make(chan events.StateChanged, 256),
		done:    make(chan struct{}),
	}
	settings := led.DefaultSettings()
	settings.MillisStep = 1
	h.settings = &settings

	units := []strand.UnitConfig{{Pins: [3]int{0, 1, 2}}, {Pins: [3]int{3, 4, 5}}}
	aliases := []strand.Alias{{Topic: "red", IndexStart: 0, IndexEnd: -1, Scale: [3]float64{1, 0, 0}}}
	st, err := strand.New("home/lantern", units, aliases, h.driver, h.settings)
	require.NoError(t, err)

	h.server = New(st, h.driver, h.settings, h.reloads)
	h.server.Events().OnState(func(ev events.StateChanged) { h.states <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.server.Loop(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

// waitFor consumes state events until one for topic satisfies match.
func (h *harness) waitFor(t *testing.T, topic string, match func(led.Report) bool) led.Report {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.states:
			if ev.Topic == topic && match(ev.Report) {
				return ev.Report
			}
		case <-timeout:
			t.Fatalf("no matching state for %s", topic)
		}
	}
}

func anyReport(led.Report) bool { return true }

func TestLoopReportsAtStart(t *testing.T) {
	h := start(t)

	for _, topic := range []string{"home/lantern", "home/lantern/red", "home/lantern0", "home/lantern1"} {
		rep := h.waitFor(t, topic, anyReport)
		assert.Equal(t, "OFF", rep.State)
	}
}

func TestLoopCommand(t *testing.T) {
	h := start(t)

	h.server.Enqueue(context.Background(), "home/lantern1/set",
		[]byte(`{"state":"ON","color":{"r":10,"g":20,"b":30},"transition":0}`))

	// routes report in order: root, aliases, units.
	isOn := func(r led.Report) bool { return r.State == "ON" }
	assert.Equal(t, led.Report{State: "ON", Brightness: 30, Color: led.Color{R: 10, G: 20, B: 30}},
		h.waitFor(t, "home/lantern", isOn))
	assert.Equal(t, led.Report{State: "ON", Brightness: 30, Color: led.Color{R: 10, G: 20, B: 30}},
		h.waitFor(t, "home/lantern1", isOn))

	h.server.Enqueue(context.Background(), "home/lantern/red/set", []byte(`{"state":"ON","color":{"r":200,"g":200,"b":200}}`))
	assert.Equal(t, led.Report{State: "ON", Brightness: 200, Color: led.Color{R: 200}},
		h.waitFor(t, "home/lantern/red", isOn))

	// garbage is dropped without stopping the loop.
	h.server.Enqueue(context.Background(), "home/lantern0/set", []byte(`{`))
	h.server.Enqueue(context.Background(), "home/nowhere/set", []byte(`{}`))
	h.server.Enqueue(context.Background(), "home/lantern0/set", []byte(`{"state":"OFF"}`))
	h.waitFor(t, "home/lantern0", func(r led.Report) bool { return r.State == "OFF" })

	assert.Eventually(t, func() bool { return h.driver.flushes.Load() > 0 }, 5*time.Second, time.Millisecond)
}

func TestLoopReload(t *testing.T) {
	h := start(t)
	h.waitFor(t, "home/lantern0", anyReport)

	s := led.DefaultSettings()
	s.MillisStep = 2
	s.OnCmd = "an"
	s.OffCmd = "aus"
	h.reloads <- s

	h.waitFor(t, "home/lantern0", func(r led.Report) bool { return r.State == "aus" })

	h.server.Enqueue(context.Background(), "home/lantern0/set", []byte(`{"state":"an"}`))
	h.waitFor(t, "home/lantern0", func(r led.Report) bool { return r.State == "an" })
}

func TestLoopClosesSink(t *testing.T) {
	h := start(t)
	h.stop()
	assert.True(t, h.driver.closed.Load())
}

func TestMarkReadyOnce(t *testing.T) {
	settings := led.DefaultSettings()
	driver := &fakeDriver{}
	st, err := strand.New("home/lantern", []strand.UnitConfig{{Pins: [3]int{0, 1, 2}}}, nil, driver, &settings)
	require.NoError(t, err)

	s := New(st, driver, &settings, nil)
	var mu sync.Mutex
	var states []string
	s.notify = func(state string) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
	}

	// every reconnect calls markReady from its own goroutine.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.markReady()
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"READY=1"}, states)
}
