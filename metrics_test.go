package lsmkv

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCollectorsNonEmpty(t *testing.T) {
	r := NewRegistry()
	assert.NotEmpty(t, r.Collectors())
}

func TestRegistryCountersIncrement(t *testing.T) {
	r := NewRegistry()
	r.UpsertsTotal.Inc()
	r.UpsertsTotal.Inc()

	var m dto.Metric
	require.NoError(t, r.UpsertsTotal.Write(&m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}
