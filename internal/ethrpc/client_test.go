package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/rpcexec"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	exec := rpcexec.New("test", 4, 0, zap.NewNop())
	t.Cleanup(exec.Shutdown)
	return New(srv.URL, exec, zap.NewNop())
}

func TestClient_LatestBlockNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`"0x112a880"`)})
	})

	n, err := c.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(18000000), n)
}

func TestClient_BlockByNumber_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`null`)})
	})

	blk, err := c.BlockByNumber(context.Background(), 999999999)
	require.NoError(t, err)
	require.Nil(t, blk)
}

func TestClient_RPCError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{Code: -32000, Message: "boom"}})
	})

	_, err := c.LatestBlockNumber(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestClient_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`"0x1"`)})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.LatestBlockNumber(ctx)
	require.Error(t, err)
}

func TestDecodeABIString(t *testing.T) {
	offset := "0000000000000000000000000000000000000000000000000000000000000020"
	length := "0000000000000000000000000000000000000000000000000000000000000004"
	data := "5553444300000000000000000000000000000000000000000000000000000000"[:64]
	hex := "0x" + offset + length + data
	s, err := decodeABIString(hex)
	require.NoError(t, err)
	require.Equal(t, "USDC", s)
}

func TestDecodeUint(t *testing.T) {
	n, err := decodeUint("0x0000000000000000000000000000000000000000000000000000000000000006")
	require.NoError(t, err)
	require.Equal(t, int64(6), n.Int64())
}
