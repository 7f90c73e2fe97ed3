package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCounters(t *testing.T) {
	before := testutil.ToFloat64(catalogOps.WithLabelValues("add", "conflict"))
	RecordCatalogOp("add", "conflict")
	RecordCatalogOp("add", "conflict")
	assert.Equal(t, before+2, testutil.ToFloat64(catalogOps.WithLabelValues("add", "conflict")))

	SetCatalogDefinitions(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(catalogDefinitions))
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(connections)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(connections))
}

func TestHandlerExposesCollectors(t *testing.T) {
	SetExecutionsRunning(2)
	RecordFrame("out", "reply")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "girasol_supervisor_executions_running 2")
	assert.Contains(t, string(body), `girasol_transport_frames_total{direction="out",type="reply"}`)
}
