package netstats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/csic/platform/blockchain/indexer/internal/netstats"
)

func TestSnapshot_SyncPercent_ZeroNetworkBlockIsZero(t *testing.T) {
	s := netstats.Snapshot{LatestNetworkBlock: 0, LatestIndexedBlock: 100}
	require.Equal(t, 0.0, s.SyncPercent())
}

func TestSnapshot_SyncPercent_CapsAtHundred(t *testing.T) {
	s := netstats.Snapshot{LatestNetworkBlock: 100, LatestIndexedBlock: 150}
	require.Equal(t, 100.0, s.SyncPercent())
}

func TestSnapshot_SyncPercent_ComputesRatio(t *testing.T) {
	s := netstats.Snapshot{LatestNetworkBlock: 200, LatestIndexedBlock: 50}
	require.Equal(t, 25.0, s.SyncPercent())
}

func TestCache_UpdateAndGet_RoundTrips(t *testing.T) {
	c := netstats.New()
	require.Equal(t, netstats.Snapshot{}, c.Get())

	snap := netstats.Snapshot{
		LatestNetworkBlock: 10,
		LatestIndexedBlock: 9,
		ExecutionHealthy:   true,
		BeaconHealthy:      true,
		AsOf:               time.Unix(1000, 0),
	}
	c.Update(snap)
	require.Equal(t, snap, c.Get())
}
