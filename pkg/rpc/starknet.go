package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/canopy-network/arcadex/pkg/starknet"
)

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

type callParams struct {
	Request functionCall `json:"request"`
	BlockID string       `json:"block_id"`
}

// ChainID returns the chain id felt, e.g. 0x534e5f4d41494e.
func (c *HTTPClient) ChainID(ctx context.Context) (string, error) {
	var id string
	if err := c.callRPC(ctx, methodChainID, nil, &id); err != nil {
		return "", err
	}
	return id, nil
}

// Call invokes a view entrypoint on the latest block and returns the result felts.
func (c *HTTPClient) Call(ctx context.Context, contract, entrypoint string, calldata ...string) ([]string, error) {
	addr, err := starknet.Normalize(contract)
	if err != nil {
		return nil, err
	}
	if calldata == nil {
		calldata = []string{}
	}
	params := callParams{
		Request: functionCall{
			ContractAddress:    addr,
			EntryPointSelector: starknet.Selector(entrypoint),
			Calldata:           calldata,
		},
		BlockID: blockLatest,
	}
	var out []string
	if err := c.callRPC(ctx, methodCall, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceOf reads an ERC-20 balance. The u256 result comes back as (low, high) felts.
func (c *HTTPClient) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	acct, err := starknet.Normalize(account)
	if err != nil {
		return nil, err
	}
	felts, err := c.Call(ctx, token, balanceOfEntrypoint, acct)
	if err != nil {
		return nil, err
	}
	return decodeU256(felts)
}

func decodeU256(felts []string) (*big.Int, error) {
	switch len(felts) {
	case 0:
		return nil, fmt.Errorf("empty balance result")
	case 1:
		return starknet.ParseFelt(felts[0])
	}
	low, err := starknet.ParseFelt(felts[0])
	if err != nil {
		return nil, err
	}
	high, err := starknet.ParseFelt(felts[1])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(low, new(big.Int).Lsh(high, 128)), nil
}
