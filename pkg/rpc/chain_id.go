package rpc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/starknet"
)

// Well known chain names.
const (
	ChainMainnet = "SN_MAIN"
	ChainSepolia = "SN_SEPOLIA"
)

// FetchChainName asks the node at rpcURL for its chain id and decodes it to a readable name.
// The call is bounded to 5 seconds.
func FetchChainName(ctx context.Context, rpcURL string) (string, error) {
	client := NewHTTPWithOpts(Opts{Endpoints: []string{rpcURL}, Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id, err := client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch chain id from %s: %w", rpcURL, err)
	}
	name, err := starknet.FeltToString(id)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("empty chain id returned from %s", rpcURL)
	}
	return name, nil
}

// ChainNameFromURL guesses a chain name from an RPC URL alone: slot deployments
// (/x/<slug>/katana) are named after their slug, public nodes after their network.
func ChainNameFromURL(rpcURL string) string {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "x" && parts[i+2] == "katana" && parts[i+1] != "" {
			return parts[i+1]
		}
	}

	lower := strings.ToLower(u.Host + u.Path)
	switch {
	case strings.Contains(lower, "sepolia"):
		return ChainSepolia
	case strings.Contains(lower, "mainnet"):
		return ChainMainnet
	default:
		return ""
	}
}

// ChainName resolves a readable chain name for rpcURL, asking the node first and falling
// back to the URL. It returns "" when neither works.
func ChainName(ctx context.Context, rpcURL string, logger *zap.Logger) string {
	name, err := FetchChainName(ctx, rpcURL)
	if err == nil {
		return name
	}
	fallback := ChainNameFromURL(rpcURL)
	logging.OrNop(logger).Debug("Falling back to URL chain name",
		zap.String("rpc", rpcURL),
		zap.String("chain", fallback),
		zap.Error(err),
	)
	return fallback
}
