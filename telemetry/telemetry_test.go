package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Wake("FLAG_SENSING")
	m.Wake("FLAG_SENSING")
	m.Wake("FLAG_WDG")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.wakes.WithLabelValues("FLAG_SENSING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wakes.WithLabelValues("FLAG_WDG")))

	m.BlockSent(51)
	m.BlockSent(9)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.blocksSent))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.bytesSent))

	m.BlockFailed()
	m.PayloadDropped()
	m.OverflowDropped("A")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payloadDrops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.overflowDrops.WithLabelValues("A")))

	m.ConsecutiveErrors(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.consecutiveErrors))

	m.PlannedSleep(3600)
	assert.Equal(t, 1, testutil.CollectAndCount(m.plannedSleep))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
