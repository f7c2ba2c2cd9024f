package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/daemon"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/flokli/rgb-strand-agent/events"
	"github.com/flokli/rgb-strand-agent/led"
	"github.com/flokli/rgb-strand-agent/metrics"
	"github.com/flokli/rgb-strand-agent/mqtt"
	"github.com/flokli/rgb-strand-agent/outputs"
	"github.com/flokli/rgb-strand-agent/strand"
	log "github.com/sirupsen/logrus"
)

const availabilitySuffix = "/availability"

type message struct {
	topic   string
	payload []byte
}

// Server drives the strand. A single goroutine (Loop) owns all unit state;
// MQTT callbacks and config reloads only hand work to it.
type Server struct {
	strand   *strand.Strand
	sink     outputs.Driver
	settings *led.Settings
	reloads  <-chan led.Settings
	bus      *events.Bus

	inbound chan message
	resync  chan struct{}

	// last published report per topic, only touched by Loop.
	last        map[string]led.Report
	sinkFailing bool

	notify    func(state string)
	readyOnce sync.Once
}

// New returns a server for st. settings must be the instance st was
// created with. reloads may be nil.
func New(st *strand.Strand, sink outputs.Driver, settings *led.Settings, reloads <-chan led.Settings) *Server {
	return &Server{
		strand:   st,
		sink:     sink,
		settings: settings,
		reloads:  reloads,
		bus:      events.New(),
		inbound:  make(chan message, 64),
		resync:   make(chan struct{}, 1),
		last:     make(map[string]led.Report),
		notify:   sdNotify,
	}
}

func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.WithError(err).WithField("state", state).Debug("unable to notify systemd")
	}
}

// markReady notifies systemd once, however often the client reconnects.
func (s *Server) markReady() {
	s.readyOnce.Do(func() {
		s.notify(daemon.SdNotifyReady)
	})
}

// Events returns the bus state reports are emitted on.
func (s *Server) Events() *events.Bus {
	return s.bus
}

// Run connects to MQTT and drives the strand until ctx is done.
func (s *Server) Run(ctx context.Context, opts mqtt.Options) error {
	rootTopic := s.strand.RootRoute().Topic
	if opts.AvailabilityTopic == "" {
		opts.AvailabilityTopic = rootTopic + availabilitySuffix
	}

	mqttClient, err := mqtt.Connect(opts, func(c *mqtt.Client) {
		s.subscribe(ctx, c)
		if err := c.Announce(); err != nil {
			log.WithError(err).Warn("unable to announce availability")
		}
		s.requestResync()

		// mark as ready once we listen on all set topics.
		s.markReady()
	})
	if err != nil {
		log.Error("unable to connect to MQTT")
		return fmt.Errorf("unable to connect to mqtt: %w", err)
	}
	defer mqttClient.Close()

	unsub := s.bus.OnState(func(ev events.StateChanged) {
		l := log.WithField("topic", ev.Topic)
		if err := mqttClient.PublishJSON(ev.Topic, ev.Report); err != nil {
			l.WithError(err).Warn("unable to publish state")
			return
		}
		s.notify(daemon.SdNotifyWatchdog)
	})
	defer unsub()

	log.WithFields(log.Fields{
		"topic": rootTopic,
		"units": len(s.strand.Units()),
		"sink":  s.sink.String(),
	}).Info("Server started")

	s.Loop(ctx)

	s.notify(daemon.SdNotifyStopping)
	if err := mqttClient.Unsubscribe(s.strand.SetTopics()); err != nil {
		log.WithError(err).Warn("unable to unsubscribe")
	}

	log.Info("server.Run() finished")
	return nil
}

func (s *Server) subscribe(ctx context.Context, c *mqtt.Client) {
	for _, topic := range s.strand.SetTopics() {
		topic := topic
		l := log.WithField("topic", topic)

		err := c.Subscribe(topic, 0, func(_ pahomqtt.Client, m pahomqtt.Message) {
			l := l.WithFields(log.Fields{
				"message_id": m.MessageID(),
				"payload":    string(m.Payload()),
			})
			l.Debug("received message")

			if m.Topic() != topic {
				// This should only happen if the broker sends us unsolicited messages,
				// and/or the client doesn't properly route them to the right callbacks.
				l.Warn("discarded unrelated message")
				return
			}
			s.Enqueue(ctx, m.Topic(), m.Payload())
		})
		if err != nil {
			l.WithError(err).Error("unable to subscribe to set topic")
		}
	}
}

// Enqueue hands a command received on topic to the driver loop.
func (s *Server) Enqueue(ctx context.Context, topic string, payload []byte) {
	select {
	case s.inbound <- message{topic: topic, payload: payload}:
	case <-ctx.Done():
	}
}

func (s *Server) requestResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Loop ticks the strand every MillisStep and applies commands and settings
// in between, until ctx is done. The sink is closed on return.
func (s *Server) Loop(ctx context.Context) {
	defer func() {
		if err := s.sink.Close(); err != nil {
			log.WithError(err).Warn("unable to close sink")
		}
		if err := s.bus.Close(); err != nil {
			log.WithError(err).Warn("unable to close event bus")
		}
	}()

	period := tickPeriod(s.settings)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.report(true)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.tick()

		case m := <-s.inbound:
			s.handleCommand(m)

		case <-s.resync:
			s.report(true)

		case settings := <-s.reloads:
			*s.settings = settings
			log.WithFields(log.Fields{
				"transition_ms":    settings.TransitionMs,
				"millis_step":      settings.MillisStep,
				"ramp_coefficient": settings.RampCoefficient,
				"on_cmd":           settings.OnCmd,
				"off_cmd":          settings.OffCmd,
			}).Info("led settings changed")

			if p := tickPeriod(s.settings); p != period {
				period = p
				ticker.Reset(period)
			}
			// the on/off strings may have changed.
			s.report(false)
		}
	}
}

func tickPeriod(settings *led.Settings) time.Duration {
	return time.Duration(settings.MillisStep) * time.Millisecond
}

func (s *Server) tick() {
	ramping := s.strand.Tick()
	metrics.ObserveTick(ramping)

	if err := s.sink.Flush(); err != nil {
		metrics.IncSinkError()
		if !s.sinkFailing {
			log.WithError(err).Error("unable to flush outputs")
		}
		s.sinkFailing = true
		return
	}
	if s.sinkFailing {
		log.Info("outputs recovered")
	}
	s.sinkFailing = false
}

func (s *Server) handleCommand(m message) {
	l := log.WithField("topic", m.topic)

	r, err := s.strand.Handle(m.topic, m.payload)
	if err != nil {
		metrics.IncCommandError()
		if errors.Is(err, strand.ErrUnknownTopic) {
			l.Warn("discarded message for unknown topic")
		} else {
			l.WithError(err).Error("unable to handle command")
		}
		return
	}
	metrics.IncCommand(string(r.Kind))

	s.report(false)
}

// report emits the report of every route that changed since it was last
// emitted, or of all routes if all is set.
func (s *Server) report(all bool) {
	for _, r := range s.strand.Routes() {
		rep := r.Root().Report(s.settings)
		if prev, found := s.last[r.Topic]; found && prev == rep && !all {
			continue
		}
		s.last[r.Topic] = rep
		s.bus.PublishState(events.StateChanged{Topic: r.Topic, Report: rep})
	}
	metrics.ObserveRoot(s.strand.Root())
}
