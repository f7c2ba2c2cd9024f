// Package events carries state changes from the driver loop to whoever
// reports them, so the loop never waits on the network.
package events

import (
	"github.com/flokli/rgb-strand-agent/led"
	"github.com/kelindar/event"
)

const (
	TypeStateChanged uint32 = iota + 1
)

// StateChanged is emitted with the new report of a route.
type StateChanged struct {
	Topic  string
	Report led.Report
}

func (StateChanged) Type() uint32 { return TypeStateChanged }

// Bus wraps a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

func (b *Bus) PublishState(ev StateChanged) {
	event.Publish(b.dispatcher, ev)
}

// OnState registers fn for state changes and returns the unsubscribe func.
func (b *Bus) OnState(fn func(StateChanged)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
