package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/userloc/go-userloc/metrics"
)

func TestRecordAndGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "userloc")

	m.Lookup("local")
	m.Lookup("local")
	m.Lookup("live")
	m.LookupError("rate_limited")
	m.Eviction()
	m.Coalesced()
	m.RateLimited()
	m.PendingEvicted()
	m.Processed()
	m.ProcessError()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 8)
}

func TestNilHandleIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.Lookup("local")
	m.LookupError("network_error")
	m.Eviction()
	m.Coalesced()
	m.RateLimited()
	m.PendingEvicted()
	m.Processed()
	m.ProcessError()
}
