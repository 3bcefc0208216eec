package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Compactions.WithLabelValues("ok").Inc()
	m.CompactedMessages.Add(3)
	m.BufferLength.Set(7)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Compactions.WithLabelValues("ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CompactedMessages))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.BufferLength))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewWithNilRegistererIsIsolated(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
