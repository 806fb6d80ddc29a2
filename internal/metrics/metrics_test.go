package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveGraded("exact")
	m.ObserveItemError("grade", "validation")
	m.ObserveSettled("won")
	m.ObserveInvariantViolation()
	m.ObserveLearning("beta")
	m.ObserveElimination()
	m.ObserveProjection(true, time.Millisecond)
	m.SetBalance("e1", "2025", 100)
	m.ObserveGame(time.Second)
}

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveGraded("gaussian")
	m.ObserveGraded("gaussian")
	m.ObserveSettled("lost")
	m.ObserveInvariantViolation()
	m.SetBalance("e1", "2025", 9890)
	m.ObserveProjection(false, 2*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Graded.WithLabelValues("gaussian")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BetsSettled.WithLabelValues("lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvariantViolations))
	assert.Equal(t, 9890.0, testutil.ToFloat64(m.Balance.WithLabelValues("e1", "2025")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["settle_projection_duration_seconds"])
	assert.True(t, names["settle_graded_assertions_total"])
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ObserveLearning("ema")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LearningUpdates.WithLabelValues("ema")))
}
