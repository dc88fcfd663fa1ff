package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProm_Counters(t *testing.T) {
	p := NewProm("audiocache")

	p.IncExtraction("ok")
	p.IncExtraction("ok")
	p.IncExtraction("too_long")
	p.IncEvicted(3)
	p.IncSweepFailures(1)
	p.IncRateLimited("extract")
	p.ObserveRequest("GET", "/audios/{file}", "206", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.extractions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.extractions.WithLabelValues("too_long")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.evicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sweepFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rateLimited.WithLabelValues("extract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("GET", "/audios/{file}", "206")))
}

func TestProm_SeparateRegistries(t *testing.T) {
	// Each instance owns its registry, so constructing twice must not panic.
	require.NotPanics(t, func() {
		NewProm("audiocache")
		NewProm("audiocache")
	})
}

func TestProm_Handler(t *testing.T) {
	p := NewProm("audiocache")
	p.IncExtraction("ok")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `audiocache_extractions_total{status="ok"} 1`))
}

func TestNoop(t *testing.T) {
	var m Metrics = Noop{}
	m.IncExtraction("ok")
	m.IncEvicted(1)
	m.IncSweepFailures(1)
	m.IncRateLimited("serve")
	m.ObserveRequest("GET", "/", "200", 0)
}
