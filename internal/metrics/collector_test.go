package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("restyle")

	c.BackendDepth("0", 3)
	c.BackendAlive("0", true)
	c.BackendAlive("1", false)
	c.Job("0", "ok")
	c.Job("0", "ok")
	c.Job("1", "failed")
	c.Slide("anchor", false, 2*time.Second)
	c.Slide("interior", true, 0)
	c.SceneStarted()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.backendQueueDepth.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backendAlive.WithLabelValues("0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.backendAlive.WithLabelValues("1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsTotal.WithLabelValues("0", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.slidesTotal.WithLabelValues("interior", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scenesActive))

	expected := `
# HELP restyle_jobs_total Restyle jobs by backend and outcome
# TYPE restyle_jobs_total counter
restyle_jobs_total{backend="0",outcome="ok"} 2
restyle_jobs_total{backend="1",outcome="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "restyle_jobs_total"))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.BackendDepth("0", 1)
		c.BackendAlive("0", false)
		c.Job("0", "ok")
		c.Slide("anchor", false, time.Second)
		c.SceneStarted()
		c.SceneFinished()
	})
}
