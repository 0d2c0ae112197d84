package monitor

import (
	"log/slog"
	"time"

	"CitizenChain/internal/units"

	"github.com/shopspring/decimal"
)

// Config selects what a tick reads. ContractAddress is required; an empty
// value means the token has not been deployed yet.
type Config struct {
	RPCEndpoint     string
	ContractAddress string
	WalletAddress   string
}

// TokenSnapshot is the outcome of one successful tick. Amounts are in human
// units (raw / 10^Decimals). Snapshots are built once and never modified.
type TokenSnapshot struct {
	Name            string           `json:"name"`
	Symbol          string           `json:"symbol"`
	TotalSupply     decimal.Decimal  `json:"total_supply"`
	Decimals        uint8            `json:"decimals"`
	ContractAddress string           `json:"contract_address"`
	WalletAddress   string           `json:"wallet_address,omitempty"`
	WalletBalance   *decimal.Decimal `json:"wallet_balance,omitempty"`
	ObservedAt      time.Time        `json:"observed_at"`
}

// HasWallet reports whether the snapshot carries a wallet balance.
func (s TokenSnapshot) HasWallet() bool {
	return s.WalletBalance != nil
}

// LogAttrs renders the snapshot for the human-readable log line.
func (s TokenSnapshot) LogAttrs() []any {
	attrs := []any{
		slog.String("name", s.Name),
		slog.String("symbol", s.Symbol),
		slog.String("total_supply", units.FormatWhole(s.TotalSupply)),
		slog.Int("decimals", int(s.Decimals)),
		slog.String("contract", s.ContractAddress),
	}
	if s.WalletBalance != nil {
		attrs = append(attrs,
			slog.String("wallet", s.WalletAddress),
			slog.String("wallet_balance", units.FormatWhole(*s.WalletBalance)),
		)
	}
	return attrs
}

// State is a step of the poll cycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReading    State = "reading"
	StateReporting  State = "reporting"
	StateFailed     State = "failed"
)

// Result is one element of a Watch sequence. Exactly one of Snapshot and
// Err is set; FailedIn names the state the tick failed in.
type Result struct {
	Tick       uint64
	Snapshot   *TokenSnapshot
	Err        error
	FailedIn   State
	ObservedAt time.Time
}

// OK reports whether the tick produced a snapshot.
func (r Result) OK() bool {
	return r.Err == nil && r.Snapshot != nil
}
