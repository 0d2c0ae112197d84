package web3

import (
	"context"
	"math/big"
)

// TokenMeta holds the raw, unscaled values returned by the token contract.
type TokenMeta struct {
	Name           string
	Symbol         string
	TotalSupplyRaw *big.Int
	Decimals       uint8
}

// Dialer establishes connections to a remote ledger node.
//
// Dial fails with a CONNECTIVITY_FAILURE error when the endpoint is
// unreachable or answers the handshake with something malformed.
type Dialer interface {
	Dial(ctx context.Context, rpcEndpoint string) (Conn, error)
}

// Conn performs typed read calls against token contracts. Implementations
// keep no state between calls besides the transport itself and never retry.
// A Conn must not be used by more than one poll cycle at a time.
type Conn interface {
	// TokenMeta reads name, symbol, totalSupply and decimals.
	TokenMeta(ctx context.Context, contract string) (TokenMeta, error)
	// BalanceOf reads balanceOf(owner) in raw units.
	BalanceOf(ctx context.Context, contract, owner string) (*big.Int, error)
	Close()
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, rpcEndpoint string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, rpcEndpoint string) (Conn, error) {
	return f(ctx, rpcEndpoint)
}
