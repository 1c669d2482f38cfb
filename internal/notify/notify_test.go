package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/notify"
)

func TestNew_NoBrokers_IsNoOp(t *testing.T) {
	n := notify.New(nil, zap.NewNop())

	require.NotPanics(t, func() {
		n.NotifyBlockPersisted(context.Background(), 42)
	})
	require.NoError(t, n.Close())
}

func TestNew_EmptyBrokerSlice_IsNoOp(t *testing.T) {
	n := notify.New([]string{}, zap.NewNop())

	require.NotPanics(t, func() {
		n.NotifyBlockPersisted(context.Background(), 1)
	})
	require.NoError(t, n.Close())
}
