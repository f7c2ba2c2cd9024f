// Package metrics exposes prometheus metrics of the strand.
package metrics

import (
	"net/http"

	"github.com/flokli/rgb-strand-agent/led"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rgbstrand"

var (
	commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Commands applied, by route kind",
	}, []string{"kind"})

	commandErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "command_errors_total",
		Help:      "Commands that could not be routed or parsed",
	})

	ticks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Ramp steps taken by the driver loop",
	})

	sinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Failed flushes of the output driver",
	})

	rampingChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ramping_channels",
		Help:      "Channels that have not reached their target",
	})

	rootOn = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "root_on",
		Help:      "1 if any unit is on",
	})

	rootLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "root_level",
		Help:      "Maximum commanded level over all units that are on",
	}, []string{"channel"})
)

func IncCommand(kind string) {
	commands.WithLabelValues(kind).Inc()
}

func IncCommandError() {
	commandErrors.Inc()
}

func IncSinkError() {
	sinkErrors.Inc()
}

// ObserveTick records a tick and the channels still ramping after it.
func ObserveTick(ramping int) {
	ticks.Inc()
	rampingChannels.Set(float64(ramping))
}

// ObserveRoot records the aggregate strand state.
func ObserveRoot(r led.Root) {
	if r.IsOn {
		rootOn.Set(1)
	} else {
		rootOn.Set(0)
	}
	rootLevel.WithLabelValues("brightness").Set(r.Brightness)
	rootLevel.WithLabelValues("red").Set(r.Red)
	rootLevel.WithLabelValues("green").Set(r.Green)
	rootLevel.WithLabelValues("blue").Set(r.Blue)
}

// Handler returns the prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
