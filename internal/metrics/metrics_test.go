package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.StartStepTimer("find_all").Stop("success")
	m.CyclesFound.WithLabelValues("searcher").Inc()
	m.RecordExecution("filled", 3, 120*time.Millisecond)
	m.VenueWeight1m.Set(42)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
