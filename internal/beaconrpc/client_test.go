package beaconrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/rpcexec"
)

func TestSlotForExecutionBlock(t *testing.T) {
	slot, ok := SlotForExecutionBlock(MergeBlock)
	require.True(t, ok)
	require.Equal(t, MergeSlot, slot)

	_, ok = SlotForExecutionBlock(MergeBlock - 1)
	require.False(t, ok)

	slot, ok = SlotForExecutionBlock(MergeBlock + 100)
	require.True(t, ok)
	require.Equal(t, MergeSlot+100, slot)
}

func TestEpochForSlot(t *testing.T) {
	require.Equal(t, uint64(0), EpochForSlot(0))
	require.Equal(t, uint64(1), EpochForSlot(32))
	require.Equal(t, uint64(1), EpochForSlot(63))
}

func TestGetBeaconDataForExecutionBlock_Degrades404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	exec := rpcexec.New("beacon-test", 2, 0, zap.NewNop())
	defer exec.Shutdown()
	c := New(srv.URL, exec, zap.NewNop())

	data, err := c.GetBeaconDataForExecutionBlock(context.Background(), MergeBlock+5)
	require.NoError(t, err)
	require.NotNil(t, data.Slot)
	require.Nil(t, data.SlotRoot)
	require.Nil(t, data.Graffiti)
}

func TestGetBeaconDataForExecutionBlock_PreMerge(t *testing.T) {
	exec := rpcexec.New("beacon-test", 2, 0, zap.NewNop())
	defer exec.Shutdown()
	c := New("http://unused.invalid", exec, zap.NewNop())

	data, err := c.GetBeaconDataForExecutionBlock(context.Background(), MergeBlock-1)
	require.NoError(t, err)
	require.Nil(t, data.Slot)
}
