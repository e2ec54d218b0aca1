package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsIncrementsCounters(t *testing.T) {
	ObservationsAppendedTotal.Reset()
	ObservationsDroppedTotal.Reset()

	var pm PipelineMetrics
	pm.ObservationAppended("POSITION")
	pm.ObservationAppended("POSITION")
	pm.ObservationDropped("constraint_violation")

	require.Equal(t, float64(2), testutil.ToFloat64(ObservationsAppendedTotal.WithLabelValues("POSITION")))
	require.Equal(t, float64(1), testutil.ToFloat64(ObservationsDroppedTotal.WithLabelValues("constraint_violation")))
}

func TestHTTPRequestMetricsRecordsStatusAndDuration(t *testing.T) {
	HTTPRequestsTotal.Reset()

	var hm HTTPRequestMetrics
	hm.Observe("GET", "/{device}/probe", 200, 5*time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/{device}/probe", "200")))
}
