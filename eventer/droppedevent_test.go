package eventer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingDroppedEventHandler(t *testing.T) {
	log, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	metrics, err := newMetrics(reg, "mock")
	require.NoError(t, err)

	handler := newLoggingDroppedEventHandler(log.WithField("eventer_id", "mock"), metrics)

	require.NoError(t, handler.handle(7))
	require.NoError(t, handler.handle(3))

	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.dropped))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, uint64(7), entries[0].Data["count"])
	assert.Equal(t, "mock", entries[0].Data["eventer_id"])
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	withID := func(id string) prometheus.Registerer {
		return prometheus.WrapRegistererWith(prometheus.Labels{"eventer_id": id}, reg)
	}

	_, err := newMetrics(withID("one"), "mock")
	require.NoError(t, err)

	// Eventers sharing a registry are told apart by their id
	_, err = newMetrics(withID("one"), "mock")
	assert.Error(t, err)

	_, err = newMetrics(withID("two"), "mock")
	assert.NoError(t, err)
}
