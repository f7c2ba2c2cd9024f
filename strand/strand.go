// Package strand groups the LED units of a strand and routes commands
// addressed to the whole strand, to an alias, or to a single unit.
package strand

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flokli/rgb-strand-agent/led"
	log "github.com/sirupsen/logrus"
)

// ErrUnknownTopic is returned for commands on a topic no route listens on.
var ErrUnknownTopic = errors.New("unknown topic")

// SetSuffix is appended to a route topic to get its command topic.
const SetSuffix = "/set"

// UnitConfig describes one unit of the strand.
type UnitConfig struct {
	// Output identifiers of the red, green and blue channel.
	Pins [3]int `toml:"pins"`
	// Overrides the default <base><index> topic.
	Topic string `toml:"topic,omitempty"`
}

// Alias addresses a range of units under a common topic, scaling each
// channel of every command sent to it.
type Alias struct {
	Topic      string     `toml:"topic"`
	IndexStart int        `toml:"index_start"`
	IndexEnd   int        `toml:"index_end"` // inclusive, -1 for the last unit
	Scale      [3]float64 `toml:"scale"`
}

// Resolve returns the inclusive index range of the alias in a strand of n units.
func (a Alias) Resolve(n int) (start, end int, err error) {
	start, end = a.IndexStart, a.IndexEnd
	if end == -1 {
		end = n - 1
	}
	if start < 0 || start >= n {
		return 0, 0, fmt.Errorf("alias %q: index_start %d out of range [0,%d)", a.Topic, start, n)
	}
	if end < start || end >= n {
		return 0, 0, fmt.Errorf("alias %q: index_end %d out of range [%d,%d)", a.Topic, a.IndexEnd, start, n)
	}
	return start, end, nil
}

// RouteKind tells what a route addresses.
type RouteKind string

const (
	KindRoot  RouteKind = "root"
	KindAlias RouteKind = "alias"
	KindUnit  RouteKind = "unit"
)

// Route is a topic together with the units it drives and the scale applied
// to them.
type Route struct {
	Topic string
	Kind  RouteKind
	units []*led.Unit
	scale [3]float64
}

func (r *Route) Units() []*led.Unit { return r.units }

// Root returns the aggregate state over the units of this route.
func (r *Route) Root() led.Root { return led.Aggregate(r.units) }

// Strand owns the units and all routes to them.
type Strand struct {
	settings *led.Settings
	units    []*led.Unit
	routes   []*Route
	byTopic  map[string]*Route
}

// New creates one unit per entry of units, writing to sink, plus a route
// for the strand at base, one per alias and one per unit.
func New(base string, units []UnitConfig, aliases []Alias, sink led.Sink, settings *led.Settings) (*Strand, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units configured")
	}

	s := &Strand{
		settings: settings,
		byTopic:  make(map[string]*Route),
	}

	for i, uc := range units {
		u, err := led.NewUnit(base, i, uc.Pins, sink, settings)
		if err != nil {
			return nil, fmt.Errorf("unable to create unit: %w", err)
		}
		if uc.Topic != "" {
			u.SetTopic(uc.Topic)
		}
		s.units = append(s.units, u)
	}

	if err := s.addRoute(&Route{Topic: base, Kind: KindRoot, units: s.units, scale: led.Unscaled}); err != nil {
		return nil, err
	}

	for _, a := range aliases {
		start, end, err := a.Resolve(len(s.units))
		if err != nil {
			return nil, err
		}
		r := &Route{
			Topic: base + "/" + strings.TrimPrefix(a.Topic, "/"),
			Kind:  KindAlias,
			units: s.units[start : end+1],
			scale: a.Scale,
		}
		if err := s.addRoute(r); err != nil {
			return nil, err
		}
	}

	for _, u := range s.units {
		r := &Route{Topic: u.Topic(), Kind: KindUnit, units: []*led.Unit{u}, scale: led.Unscaled}
		if err := s.addRoute(r); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Strand) addRoute(r *Route) error {
	if _, found := s.byTopic[r.Topic]; found {
		return fmt.Errorf("duplicate topic %q", r.Topic)
	}
	s.byTopic[r.Topic] = r
	s.routes = append(s.routes, r)
	return nil
}

func (s *Strand) Units() []*led.Unit { return s.units }

// Routes returns the root route first, then aliases, then units.
func (s *Strand) Routes() []*Route { return s.routes }

// RootRoute returns the route addressing every unit.
func (s *Strand) RootRoute() *Route { return s.routes[0] }

// SetTopics lists the command topics of all routes.
func (s *Strand) SetTopics() []string {
	topics := make([]string, 0, len(s.routes))
	for _, r := range s.routes {
		topics = append(topics, r.Topic+SetSuffix)
	}
	return topics
}

// Root returns the aggregate over all units.
func (s *Strand) Root() led.Root { return led.Aggregate(s.units) }

// Handle decodes payload received on the command topic setTopic and applies
// it to every unit of the matching route. It returns the route.
func (s *Strand) Handle(setTopic string, payload []byte) (*Route, error) {
	r, found := s.byTopic[strings.TrimSuffix(setTopic, SetSuffix)]
	if !found || !strings.HasSuffix(setTopic, SetSuffix) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, setTopic)
	}

	cmd, err := led.ParseCommand(payload)
	if err != nil {
		return r, err
	}

	log.WithFields(log.Fields{
		"topic": r.Topic,
		"kind":  r.Kind,
		"units": len(r.units),
	}).Debug("applying command")

	for _, u := range r.units {
		u.Apply(cmd, r.scale)
	}
	return r, nil
}

// Tick advances every unit by one step and returns how many channels are
// still ramping.
func (s *Strand) Tick() int {
	ramping := 0
	for _, u := range s.units {
		u.Tick()
		ramping += u.Ramping()
	}
	return ramping
}
