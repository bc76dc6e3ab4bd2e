package elastic_client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

func TestConnectWithoutAddressSkips(t *testing.T) {
	indexer, err := Connect(config.ElasticsearchConfig{})
	require.NoError(t, err)
	assert.Nil(t, indexer)

	// a nil indexer is a valid no-op observer
	assert.NoError(t, indexer.ObserveBatch(context.Background(), ctdf.VehicleBatch{{Line: ctdf.StringRef("C3")}}))
	assert.NoError(t, indexer.Close(context.Background()))
}

func TestIndexNameUsesISOWeek(t *testing.T) {
	assert.Equal(t, "vehicle-events-2025-31", IndexName(time.Date(2025, 7, 30, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "vehicle-events-2026-1", IndexName(time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)))
}
