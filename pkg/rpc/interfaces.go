package rpc

import (
	"context"
	"math/big"
)

// Client captures the chain RPC calls used for balance polling and chain identification.
type Client interface {
	ChainID(ctx context.Context) (string, error)
	Call(ctx context.Context, contract, entrypoint string, calldata ...string) ([]string, error)
	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
}

// Factory produces RPC clients for a given set of endpoints.
type Factory interface {
	NewClient(endpoints []string) Client
}

type httpFactory struct {
	opts Opts
}

// NewHTTPFactory returns a factory that builds HTTP clients with shared defaults.
func NewHTTPFactory(opts Opts) Factory {
	return &httpFactory{opts: opts}
}

func (f *httpFactory) NewClient(endpoints []string) Client {
	o := f.opts
	o.Endpoints = endpoints
	return NewHTTPWithOpts(o)
}
