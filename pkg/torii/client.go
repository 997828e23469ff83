// Package torii is the client of the per-project indexers served at
// <base>/x/<project>/torii.
package torii

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/rpc"
)

const (
	entitiesPath      = "/entities"
	tokensPath        = "/tokens"
	tokenBalancesPath = "/token_balances"
	sqlPath           = "/sql"
	wsPath            = "/ws"

	// DefaultPageSize is the page size requested when a query leaves Limit at 0.
	DefaultPageSize = 100
)

// URL is the indexer endpoint of a project.
func URL(base, project string) string {
	return strings.TrimRight(base, "/") + "/x/" + url.PathEscape(project) + "/torii"
}

// Client talks to one project's indexer.
type Client struct {
	project string
	base    string
	http    *rpc.HTTPClient
	logger  *zap.Logger
}

// Factory hands out one cached Client per project.
type Factory struct {
	base    string
	opts    rpc.Opts
	logger  *zap.Logger
	clients *xsync.Map[string, *Client]
}

// NewFactory returns a factory for indexers under base, e.g. https://api.cartridge.gg.
// opts.Endpoints is ignored.
func NewFactory(base string, opts rpc.Opts, logger *zap.Logger) *Factory {
	return &Factory{
		base:    base,
		opts:    opts,
		logger:  logging.OrNop(logger),
		clients: xsync.NewMap[string, *Client](),
	}
}

// Client returns the client of project.
func (f *Factory) Client(project string) *Client {
	c, _ := f.clients.LoadOrCompute(project, func() (*Client, bool) {
		return NewClient(project, URL(f.base, project), f.opts, f.logger), false
	})
	return c
}

// NewClient builds a client for the indexer at endpoint.
func NewClient(project, endpoint string, opts rpc.Opts, logger *zap.Logger) *Client {
	opts.Endpoints = []string{endpoint}
	return &Client{
		project: project,
		base:    strings.TrimRight(endpoint, "/"),
		http:    rpc.NewHTTPWithOpts(opts),
		logger:  logging.OrNop(logger).With(zap.String("project", project)),
	}
}

func (c *Client) Project() string { return c.project }

// Page is one cursor page. An empty NextCursor means the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Query selects entities by model name.
type Query struct {
	Models []string `json:"models"`
	Keys   []string `json:"keys,omitempty"`
	Limit  int      `json:"limit"`
	Cursor string   `json:"cursor,omitempty"`
}

// Entity is one indexed entity with the raw values of its models, keyed by
// "<namespace>-<Model>".
type Entity struct {
	HashedKeys string                     `json:"hashed_keys"`
	Models     map[string]json.RawMessage `json:"models"`
}

// Entities fetches one page of entities.
func (c *Client) Entities(ctx context.Context, q Query) (Page[Entity], error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	var page Page[Entity]
	if err := c.http.DoJSON(ctx, http.MethodPost, entitiesPath, q, &page); err != nil {
		return Page[Entity]{}, fmt.Errorf("entities of %s: %w", c.project, err)
	}
	return page, nil
}

// Models fetches one page of entities and decodes their models. Undecodable models are
// logged and skipped.
func (c *Client) Models(ctx context.Context, q Query) (Page[Model], error) {
	page, err := c.Entities(ctx, q)
	if err != nil {
		return Page[Model]{}, err
	}
	return Page[Model]{Items: DecodeEntities(c.project, page.Items, c.logger), NextCursor: page.NextCursor}, nil
}

// TokenQuery selects tokens of contracts.
type TokenQuery struct {
	Contracts []string `json:"contract_addresses,omitempty"`
	TokenIDs  []string `json:"token_ids,omitempty"`
	Limit     int      `json:"limit"`
	Cursor    string   `json:"cursor,omitempty"`
}

// Token is an indexed ERC-721/1155/20 token. Metadata is the raw JSON document.
type Token struct {
	Contract string `json:"contract_address"`
	TokenID  string `json:"token_id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Metadata string `json:"metadata"`
}

// Tokens fetches one page of tokens.
func (c *Client) Tokens(ctx context.Context, q TokenQuery) (Page[Token], error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	var page Page[Token]
	if err := c.http.DoJSON(ctx, http.MethodPost, tokensPath, q, &page); err != nil {
		return Page[Token]{}, fmt.Errorf("tokens of %s: %w", c.project, err)
	}
	return page, nil
}

// BalanceQuery selects balances of accounts.
type BalanceQuery struct {
	Accounts  []string `json:"account_addresses,omitempty"`
	Contracts []string `json:"contract_addresses,omitempty"`
	Limit     int      `json:"limit"`
	Cursor    string   `json:"cursor,omitempty"`
}

// TokenBalance is an account's balance of one token. Balance is a u256 hex felt.
type TokenBalance struct {
	Account  string `json:"account_address"`
	Contract string `json:"contract_address"`
	TokenID  string `json:"token_id"`
	Balance  string `json:"balance"`
}

// TokenBalances fetches one page of balances.
func (c *Client) TokenBalances(ctx context.Context, q BalanceQuery) (Page[TokenBalance], error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	var page Page[TokenBalance]
	if err := c.http.DoJSON(ctx, http.MethodPost, tokenBalancesPath, q, &page); err != nil {
		return Page[TokenBalance]{}, fmt.Errorf("token balances of %s: %w", c.project, err)
	}
	return page, nil
}

// SQL runs a read-only query and returns its rows.
func (c *Client) SQL(ctx context.Context, query string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	path := sqlPath + "?query=" + url.QueryEscape(query)
	if err := c.http.DoJSON(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, fmt.Errorf("sql on %s: %w", c.project, err)
	}
	return rows, nil
}
