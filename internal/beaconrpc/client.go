// Package beaconrpc is the typed façade over the consensus Beacon HTTP
// API (L3). It delegates transport to its own rpcexec.Executor instance,
// independent from the execution client's (§4.3).
package beaconrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/rpcexec"
)

// Merge fork constants (§4.3, GLOSSARY).
const (
	MergeBlock uint64 = 15537394
	MergeSlot  uint64 = 4700013
	SlotsPerEpoch uint64 = 32
)

// SlotForExecutionBlock estimates the beacon slot for a post-merge
// execution block number using a fixed-interval mapping. Pre-merge
// blocks have no slot.
func SlotForExecutionBlock(blockNumber uint64) (uint64, bool) {
	if blockNumber < MergeBlock {
		return 0, false
	}
	return MergeSlot + (blockNumber - MergeBlock), true
}

// EpochForSlot returns the epoch containing slot.
func EpochForSlot(slot uint64) uint64 {
	return slot / SlotsPerEpoch
}

// Client is the consensus-layer HTTP façade.
type Client struct {
	baseURL string
	http    *http.Client
	exec    *rpcexec.Executor
	logger  *zap.Logger
}

// New constructs a Client bound to its own executor.
func New(baseURL string, exec *rpcexec.Executor, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		exec:    exec,
		logger:  logger,
	}
}

// errNotFound signals an HTTP 404, which callers degrade into absent
// fields rather than an error (§6).
var errNotFound = fmt.Errorf("beaconrpc: not found")

// IsNotFound reports whether err represents an HTTP 404.
func IsNotFound(err error) bool {
	return err == errNotFound
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("beaconrpc: build request %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("beaconrpc: transport error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("beaconrpc: %s returned HTTP %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("beaconrpc: decode response for %s: %w", path, err)
	}
	return nil
}

// TestConnection checks /eth/v1/node/health.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.get(ctx, "/eth/v1/node/health", nil)
	})
	return err
}

type headerEnvelope struct {
	Data HeaderData `json:"data"`
}

// HeaderData is the header payload returned by /eth/v1/beacon/headers/{slot}.
type HeaderData struct {
	Root   string `json:"root"`
	Header struct {
		Message struct {
			Slot          string `json:"slot"`
			ProposerIndex string `json:"proposer_index"`
			ParentRoot    string `json:"parent_root"`
		} `json:"message"`
	} `json:"header"`
}

// HeaderBySlot fetches a block header by slot. A nil result with no
// error signals absence for this slot.
func (c *Client) HeaderBySlot(ctx context.Context, slot uint64) (*HeaderData, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (*HeaderData, error) {
		var env headerEnvelope
		path := fmt.Sprintf("/eth/v1/beacon/headers/%d", slot)
		if err := c.get(ctx, path, &env); err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &env.Data, nil
	})
}

type blockEnvelope struct {
	Data struct {
		Message BlockMessage `json:"message"`
	} `json:"data"`
}

// BlockMessage is the beacon block body fields this indexer cares about.
type BlockMessage struct {
	Slot          string `json:"slot"`
	ProposerIndex string `json:"proposer_index"`
	ParentRoot    string `json:"parent_root"`
	Body          struct {
		RandaoReveal string `json:"randao_reveal"`
		Graffiti     string `json:"graffiti"`
		Eth1Data     struct {
			DepositCount string `json:"deposit_count"`
		} `json:"eth1_data"`
	} `json:"body"`
}

// BlockBySlot fetches a full beacon block by slot via
// /eth/v2/beacon/blocks/{slot}. A nil result with no error signals
// absence for this slot.
func (c *Client) BlockBySlot(ctx context.Context, slot uint64) (*BlockMessage, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (*BlockMessage, error) {
		var env blockEnvelope
		path := fmt.Sprintf("/eth/v2/beacon/blocks/%d", slot)
		if err := c.get(ctx, path, &env); err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &env.Data.Message, nil
	})
}

type depositSnapshotEnvelope struct {
	Data struct {
		DepositCount string `json:"deposit_count"`
	} `json:"data"`
}

// DepositCount fetches the cumulative validator deposit count via
// /eth/v1/beacon/deposit_snapshot.
func (c *Client) DepositCount(ctx context.Context) (uint64, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (uint64, error) {
		var env depositSnapshotEnvelope
		if err := c.get(ctx, "/eth/v1/beacon/deposit_snapshot", &env); err != nil {
			if IsNotFound(err) {
				return 0, nil
			}
			return 0, err
		}
		return parseUint(env.Data.DepositCount), nil
	})
}

// BeaconData is the aggregated consensus-layer metadata for one execution
// block, as returned by GetBeaconDataForExecutionBlock.
type BeaconData struct {
	Slot               *uint64
	ProposerIndex      *uint64
	Epoch              *uint64
	SlotRoot           *string
	ParentRoot         *string
	BeaconDepositCount *uint64
	Graffiti           *string
	RandaoReveal       *string
}

// GetBeaconDataForExecutionBlock aggregates slot, header, block, and
// deposit-count data for the execution block number. Any HTTP 404 along
// the way degrades the corresponding fields to nil rather than failing
// the whole call.
func (c *Client) GetBeaconDataForExecutionBlock(ctx context.Context, blockNumber uint64) (*BeaconData, error) {
	slot, ok := SlotForExecutionBlock(blockNumber)
	if !ok {
		return &BeaconData{}, nil
	}

	out := &BeaconData{Slot: &slot}
	epoch := EpochForSlot(slot)
	out.Epoch = &epoch

	header, err := c.HeaderBySlot(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("beaconrpc: header for slot %d: %w", slot, err)
	}
	if header != nil {
		root := header.Root
		out.SlotRoot = &root
		parent := header.Header.Message.ParentRoot
		out.ParentRoot = &parent
		idx := parseUint(header.Header.Message.ProposerIndex)
		out.ProposerIndex = &idx
	}

	block, err := c.BlockBySlot(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("beaconrpc: block for slot %d: %w", slot, err)
	}
	if block != nil {
		graffiti := block.Body.Graffiti
		out.Graffiti = &graffiti
		randao := block.Body.RandaoReveal
		out.RandaoReveal = &randao
		if block.Body.Eth1Data.DepositCount != "" {
			dc := parseUint(block.Body.Eth1Data.DepositCount)
			out.BeaconDepositCount = &dc
		}
	}

	return out, nil
}

func parseUint(s string) uint64 {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + uint64(r-'0')
	}
	return n
}
