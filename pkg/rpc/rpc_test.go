package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/arcadex/pkg/starknet"
)

// fakeNode answers starknet_chainId and starknet_call(balanceOf).
func fakeNode(t *testing.T, chainID string, balance []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case methodChainID:
			resp["result"] = chainID
		case methodCall:
			var p callParams
			require.NoError(t, json.Unmarshal(req.Params, &p))
			assert.Equal(t, starknet.Selector("balanceOf"), p.Request.EntryPointSelector)
			assert.Equal(t, blockLatest, p.BlockID)
			resp["result"] = balance
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_ChainIDAndBalance(t *testing.T) {
	srv := fakeNode(t, "0x534e5f5345504f4c4941", []string{"0x10", "0x1"})
	defer srv.Close()

	c := NewHTTPWithOpts(Opts{Endpoints: []string{srv.URL}})
	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0x534e5f5345504f4c4941", id)

	bal, err := c.BalanceOf(context.Background(), "0x49d", "0xabc")
	require.NoError(t, err)
	want := new(big.Int).Add(big.NewInt(16), new(big.Int).Lsh(big.NewInt(1), 128))
	assert.Equal(t, 0, want.Cmp(bal))

	_, err = c.BalanceOf(context.Background(), "0x49d", "not-hex")
	assert.ErrorIs(t, err, starknet.ErrInvalidAddress)
}

func TestHTTPClient_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":20,"message":"contract not found"}}`))
	}))
	defer srv.Close()

	c := NewHTTPWithOpts(Opts{Endpoints: []string{srv.URL}})
	_, err := c.Call(context.Background(), "0x1", "balanceOf")
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 20, rpcErr.Code)
}

func TestHTTPClient_FailsOverOn5xx(t *testing.T) {
	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := fakeNode(t, "0x534e5f4d41494e", nil)
	defer good.Close()

	c := NewHTTPWithOpts(Opts{Endpoints: []string{bad.URL, good.URL, good.URL + "/"}, BreakerFailures: 1})
	assert.Len(t, c.Endpoints(), 2)

	for i := 0; i < 3; i++ {
		id, err := c.ChainID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "0x534e5f4d41494e", id)
	}
	// The breaker opened after the first failure.
	assert.Equal(t, int32(1), badHits.Load())
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such table: s1_Trophy\n"))
	}))
	defer srv.Close()

	c := NewHTTPWithOpts(Opts{Endpoints: []string{srv.URL}})
	err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.Equal(t, "no such table: s1_Trophy", status.Body)
	assert.EqualError(t, err, "http 404: no such table: s1_Trophy")

	empty := NewHTTPWithOpts(Opts{})
	assert.ErrorIs(t, empty.DoJSON(context.Background(), http.MethodGet, "/", nil, nil), ErrNoEndpoint)
}

func TestDecodeU256(t *testing.T) {
	_, err := decodeU256(nil)
	assert.Error(t, err)

	single, err := decodeU256([]string{"42"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), single.Int64())

	_, err = decodeU256([]string{"0x1", "zz"})
	assert.Error(t, err)
}

func TestChainNameFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://api.cartridge.gg/x/dopewars/katana", "dopewars"},
		{"https://api.cartridge.gg/x/starknet/mainnet", ChainMainnet},
		{"https://api.cartridge.gg/x/starknet/sepolia/rpc/v0_8", ChainSepolia},
		{"https://starknet-mainnet.public.blastapi.io", ChainMainnet},
		{"http://localhost:5050", ""},
		{"::", ""},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.want, ChainNameFromURL(tc.url))
		})
	}
}

func TestChainName(t *testing.T) {
	srv := fakeNode(t, "0x534e5f4d41494e", nil)
	defer srv.Close()
	assert.Equal(t, ChainMainnet, ChainName(context.Background(), srv.URL, zaptest.NewLogger(t)))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	assert.Equal(t, "", ChainName(context.Background(), down.URL, nil))
}

type fakeClient struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeClient) ChainID(context.Context) (string, error) { return "0x1", nil }

func (f *fakeClient) Call(context.Context, string, string, ...string) ([]string, error) {
	return nil, nil
}

func (f *fakeClient) BalanceOf(_ context.Context, token, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[token] {
		return nil, errors.New("boom")
	}
	return big.NewInt(int64(f.calls)), nil
}

func TestPoller(t *testing.T) {
	tokenA := starknet.MustNormalize("0xa")
	tokenB := starknet.MustNormalize("0xb")
	fc := &fakeClient{fail: map[string]bool{tokenB: true}}

	var updates atomic.Int32
	p := NewPoller(fc, PollerOpts{Logger: zaptest.NewLogger(t), OnUpdate: func(string, Balances) { updates.Add(1) }})
	require.NoError(t, p.Watch("0x123", "0xa", "0xb"))
	assert.Error(t, p.Watch("0x123", "nope"))

	err := p.Poll(context.Background())
	assert.Error(t, err, "token B failed")
	assert.Equal(t, 2, fc.calls)
	bal := p.Balances("0x123")
	require.Contains(t, bal, tokenA)
	assert.NotContains(t, bal, tokenB)
	assert.Equal(t, int32(1), updates.Load())

	p.SetVisible(false)
	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 2, fc.calls, "hidden poller does not call the node")

	p.SetVisible(true)
	p.Unwatch("0x123")
	require.NoError(t, p.Poll(context.Background()))
	assert.Empty(t, p.Balances("0x123"))
}

func TestPoller_KeepsTokensMissingFromLaterPolls(t *testing.T) {
	tokenA := starknet.MustNormalize("0xa")
	tokenB := starknet.MustNormalize("0xb")
	fc := &fakeClient{fail: map[string]bool{}}
	p := NewPoller(fc, PollerOpts{Logger: zaptest.NewLogger(t)})
	require.NoError(t, p.Watch("0x123", "0xa", "0xb"))
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx))
	first := p.Balances("0x123")
	require.Len(t, first, 2)

	fc.mu.Lock()
	fc.fail[tokenB] = true
	fc.mu.Unlock()
	assert.Error(t, p.Poll(ctx))

	second := p.Balances("0x123")
	require.Len(t, second, 2)
	assert.Equal(t, 1, second[tokenA].Cmp(first[tokenA]), "polled token takes the new reading")
	assert.Equal(t, 0, second[tokenB].Cmp(first[tokenB]), "failed token keeps its last reading")
}

func TestMergeBalances(t *testing.T) {
	merged := mergeBalances(Balances{"0xa": big.NewInt(1), "0xb": big.NewInt(2)}, Balances{"0xa": big.NewInt(5)})
	assert.Equal(t, int64(5), merged["0xa"].Int64())
	assert.Equal(t, int64(2), merged["0xb"].Int64())
}

func TestPoller_StartStop(t *testing.T) {
	p := NewPoller(&fakeClient{}, PollerOpts{})
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}
