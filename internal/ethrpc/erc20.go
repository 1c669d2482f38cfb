package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNotAContract is returned by the ERC-20 read helpers when the target
// address has no deployed code at the queried block.
var ErrNotAContract = errors.New("ethrpc: not a contract")

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// verifyContract fails fast with ErrNotAContract rather than spending an
// eth_call on an address known to be empty.
func (c *Client) verifyContract(ctx context.Context, addr string, blockNumber *uint64) error {
	code, err := c.CodeAt(ctx, addr, blockNumber)
	if err != nil {
		return fmt.Errorf("ethrpc: check code at %s: %w", addr, err)
	}
	if code == "" || code == "0x" {
		return ErrNotAContract
	}
	return nil
}

// Name reads the ERC-20 name() return value, decoded as ABI string.
func (c *Client) Name(ctx context.Context, token string, blockNumber *uint64) (string, error) {
	return c.readString(ctx, token, "name()", blockNumber)
}

// Symbol reads the ERC-20 symbol() return value, decoded as ABI string.
func (c *Client) Symbol(ctx context.Context, token string, blockNumber *uint64) (string, error) {
	return c.readString(ctx, token, "symbol()", blockNumber)
}

// Decimals reads the ERC-20 decimals() return value.
func (c *Client) Decimals(ctx context.Context, token string, blockNumber *uint64) (int, error) {
	if err := c.verifyContract(ctx, token, blockNumber); err != nil {
		return 0, err
	}
	result, err := c.Call(ctx, token, selector("decimals()"), blockNumber)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: decimals() call on %s: %w", token, err)
	}
	n, err := decodeUint(result)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: decode decimals() result: %w", err)
	}
	return int(n.Int64()), nil
}

// BalanceOf reads the ERC-20 balanceOf(address) return value as a
// decimal string, at the given block number.
func (c *Client) BalanceOf(ctx context.Context, token, holder string, blockNumber *uint64) (string, error) {
	if err := c.verifyContract(ctx, token, blockNumber); err != nil {
		return "", err
	}
	data := append(selector("balanceOf(address)"), common.LeftPadBytes(common.HexToAddress(holder).Bytes(), 32)...)
	result, err := c.Call(ctx, token, data, blockNumber)
	if err != nil {
		return "", fmt.Errorf("ethrpc: balanceOf(%s) call on %s: %w", holder, token, err)
	}
	n, err := decodeUint(result)
	if err != nil {
		return "", fmt.Errorf("ethrpc: decode balanceOf() result: %w", err)
	}
	return n.String(), nil
}

func (c *Client) readString(ctx context.Context, token, signature string, blockNumber *uint64) (string, error) {
	if err := c.verifyContract(ctx, token, blockNumber); err != nil {
		return "", err
	}
	result, err := c.Call(ctx, token, selector(signature), blockNumber)
	if err != nil {
		return "", fmt.Errorf("ethrpc: %s call on %s: %w", signature, token, err)
	}
	return decodeABIString(result)
}

// decodeUint interprets a 0x-prefixed 32-byte big-endian ABI return as an
// unsigned integer.
func decodeUint(hex string) (*big.Int, error) {
	raw, err := hexutil.Decode(hex)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(raw), nil
}

// decodeABIString interprets the standard dynamic-string ABI encoding:
// a 32-byte offset word, a 32-byte length word, then the UTF-8 bytes
// right-padded to a 32-byte boundary.
func decodeABIString(hex string) (string, error) {
	raw, err := hexutil.Decode(hex)
	if err != nil {
		return "", err
	}
	if len(raw) < 64 {
		return "", nil
	}
	length := new(big.Int).SetBytes(raw[32:64]).Uint64()
	if uint64(len(raw)) < 64+length {
		return "", nil
	}
	return strings.TrimRight(string(raw[64:64+length]), "\x00"), nil
}
