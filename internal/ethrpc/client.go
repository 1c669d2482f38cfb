// Package ethrpc is the typed façade over the execution JSON-RPC (L2).
// Every call is routed through a shared rpcexec.Executor so concurrency
// and spacing limits apply uniformly regardless of caller. Raw JSON-RPC
// responses carry every numeric field as a hex string; this package
// converts them into decimal strings (for values that can exceed 64-bit
// precision) or native uint64/int (for counters that never will).
package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/rpcexec"
)

// Client is the execution-layer JSON-RPC façade.
type Client struct {
	url    string
	http   *http.Client
	exec   *rpcexec.Executor
	logger *zap.Logger
}

// New constructs a Client bound to the given executor, which enforces
// this client's concurrency and spacing limits (§4.1, §4.2).
func New(url string, exec *rpcexec.Executor, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: 30 * time.Second},
		exec:   exec,
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one unsharded JSON-RPC call, decoding the result into out.
// It is always invoked from inside rpcexec.Execute so that the executor's
// limits apply to the HTTP round trip.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("ethrpc: marshal request %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("ethrpc: build request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ethrpc: transport error calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ethrpc: %s returned HTTP %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("ethrpc: decode response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ethrpc: %s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return errNullResult
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("ethrpc: unmarshal result for %s: %w", method, err)
	}
	return nil
}

// errNullResult signals an RPC method returned JSON null, which the
// caller converts into an absent value rather than an error (§7
// Not-found).
var errNullResult = fmt.Errorf("ethrpc: null result")

// IsNotFound reports whether err represents a null RPC result.
func IsNotFound(err error) bool {
	return err == errNullResult
}

// LatestBlockNumber returns the current chain tip via eth_blockNumber.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (uint64, error) {
		var hexNum string
		if err := c.call(ctx, "eth_blockNumber", nil, &hexNum); err != nil {
			return 0, err
		}
		n, err := hexutil.DecodeUint64(hexNum)
		if err != nil {
			return 0, fmt.Errorf("ethrpc: decode block number %q: %w", hexNum, err)
		}
		return n, nil
	})
}

// BlockByNumber fetches a full block with transactions via
// eth_getBlockByNumber(tag, true). A nil block with no error signals the
// block does not yet exist.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*RawBlock, error) {
	return blockBy(ctx, c, hexutil.EncodeUint64(number))
}

// BlockByHash fetches a full block with transactions via
// eth_getBlockByHash(hash, true).
func (c *Client) BlockByHash(ctx context.Context, hash string) (*RawBlock, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (*RawBlock, error) {
		var raw RawBlock
		if err := c.call(ctx, "eth_getBlockByHash", []any{hash, true}, &raw); err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &raw, nil
	})
}

func blockBy(ctx context.Context, c *Client, tag string) (*RawBlock, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (*RawBlock, error) {
		var raw RawBlock
		if err := c.call(ctx, "eth_getBlockByNumber", []any{tag, true}, &raw); err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &raw, nil
	})
}

// TransactionReceipt fetches a transaction receipt via
// eth_getTransactionReceipt. A nil receipt with no error signals the
// receipt is not yet available.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*RawReceipt, error) {
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (*RawReceipt, error) {
		var raw RawReceipt
		if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &raw); err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &raw, nil
	})
}

// BalanceAt returns the native balance of addr as a decimal string, at
// the given block number or "latest" when blockNumber is nil.
func (c *Client) BalanceAt(ctx context.Context, addr string, blockNumber *uint64) (string, error) {
	tag := blockTag(blockNumber)
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (string, error) {
		var hexBal string
		if err := c.call(ctx, "eth_getBalance", []any{addr, tag}, &hexBal); err != nil {
			return "", err
		}
		big, err := hexutil.DecodeBig(hexBal)
		if err != nil {
			return "", fmt.Errorf("ethrpc: decode balance %q: %w", hexBal, err)
		}
		return big.String(), nil
	})
}

// CodeAt returns the deployed bytecode (as a 0x-prefixed hex string) at
// addr, at the given block number or "latest" when blockNumber is nil.
func (c *Client) CodeAt(ctx context.Context, addr string, blockNumber *uint64) (string, error) {
	tag := blockTag(blockNumber)
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (string, error) {
		var code string
		if err := c.call(ctx, "eth_getCode", []any{addr, tag}, &code); err != nil {
			return "", err
		}
		return code, nil
	})
}

// Call performs an eth_call against to with the given ABI-encoded data,
// at the given block number or "latest" when blockNumber is nil.
func (c *Client) Call(ctx context.Context, to string, data []byte, blockNumber *uint64) (string, error) {
	tag := blockTag(blockNumber)
	callObj := map[string]string{
		"to":   to,
		"data": hexutil.Encode(data),
	}
	return rpcexec.Execute(ctx, c.exec, func(ctx context.Context) (string, error) {
		var result string
		if err := c.call(ctx, "eth_call", []any{callObj, tag}, &result); err != nil {
			return "", err
		}
		return result, nil
	})
}

func blockTag(blockNumber *uint64) string {
	if blockNumber == nil {
		return "latest"
	}
	return hexutil.EncodeUint64(*blockNumber)
}

// RawBlock mirrors the execution JSON-RPC block object with transactions.
type RawBlock struct {
	Number          string           `json:"number"`
	Hash            string           `json:"hash"`
	ParentHash      string           `json:"parentHash"`
	Timestamp       string           `json:"timestamp"`
	GasUsed         string           `json:"gasUsed"`
	GasLimit        string           `json:"gasLimit"`
	Miner           string           `json:"miner"`
	Difficulty      string           `json:"difficulty"`
	Size            string           `json:"size"`
	BaseFeePerGas   string           `json:"baseFeePerGas"`
	ExtraData       string           `json:"extraData"`
	StateRoot       string           `json:"stateRoot"`
	Nonce           string           `json:"nonce"`
	WithdrawalsRoot string           `json:"withdrawalsRoot"`
	BlobGasUsed     string           `json:"blobGasUsed"`
	ExcessBlobGas   string           `json:"excessBlobGas"`
	Transactions    []RawTransaction `json:"transactions"`
	Withdrawals     []RawWithdrawal  `json:"withdrawals"`
}

// RawTransaction mirrors the execution JSON-RPC transaction object as it
// appears embedded in a block.
type RawTransaction struct {
	Hash             string `json:"hash"`
	From             string `json:"from"`
	To               string `json:"to"`
	Value            string `json:"value"`
	Gas              string `json:"gas"`
	GasPrice         string `json:"gasPrice"`
	TransactionIndex string `json:"transactionIndex"`
	BlockNumber      string `json:"blockNumber"`
}

// RawWithdrawal mirrors an EIP-4895 withdrawal object.
type RawWithdrawal struct {
	Index          string `json:"index"`
	ValidatorIndex string `json:"validatorIndex"`
	Address        string `json:"address"`
	Amount         string `json:"amount"`
}

// RawReceipt mirrors the execution JSON-RPC transaction receipt object.
type RawReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	Status          string   `json:"status"`
	GasUsed         string   `json:"gasUsed"`
	Logs            []RawLog `json:"logs"`
}

// RawLog mirrors one event log entry within a receipt.
type RawLog struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex string   `json:"logIndex"`
}

// DecodeUint64 converts a hex quantity string into a uint64, treating an
// empty string as zero (some fields are absent pre-merge).
func DecodeUint64(hex string) (uint64, error) {
	if hex == "" {
		return 0, nil
	}
	return hexutil.DecodeUint64(hex)
}

// DecodeDecimal converts a hex quantity string into its base-10 decimal
// string representation, treating an empty string as "0".
func DecodeDecimal(hex string) (string, error) {
	if hex == "" {
		return "0", nil
	}
	big, err := hexutil.DecodeBig(hex)
	if err != nil {
		return "", fmt.Errorf("ethrpc: decode decimal %q: %w", hex, err)
	}
	return big.String(), nil
}
