package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/flokli/rgb-strand-agent/led"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	IncCommand("unit")
	IncCommand("unit")
	assert.Equal(t, 2.0, testutil.ToFloat64(commands.WithLabelValues("unit")))

	ObserveTick(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(rampingChannels))

	ObserveRoot(led.Root{IsOn: true, Brightness: 200, Red: 200, Green: 50})
	assert.Equal(t, 1.0, testutil.ToFloat64(rootOn))
	assert.Equal(t, 50.0, testutil.ToFloat64(rootLevel.WithLabelValues("green")))

	ObserveRoot(led.Root{})
	assert.Equal(t, 0.0, testutil.ToFloat64(rootOn))
}

func TestHandler(t *testing.T) {
	IncCommandError()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "rgbstrand_command_errors_total")
}
