package rpc

// Starknet JSON-RPC methods used by the portal.
const (
	methodChainID = "starknet_chainId"
	methodCall    = "starknet_call"

	// blockLatest pins reads to the latest accepted block.
	blockLatest = "latest"

	balanceOfEntrypoint = "balanceOf"
)
