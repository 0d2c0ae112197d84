package monitor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/units"
	"CitizenChain/internal/web3"
	"CitizenChain/pkg/logger"
)

// Observer receives every tick outcome, e.g. for metrics or alerting.
type Observer interface {
	ObserveTick(ctx context.Context, res Result, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res Result, elapsed time.Duration)

// ObserveTick calls f.
func (f ObserverFunc) ObserveTick(ctx context.Context, res Result, elapsed time.Duration) {
	f(ctx, res, elapsed)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Monitor drives ChainReader calls. Nothing is carried from one tick to the
// next: every snapshot is built only from the reads of its own tick.
type Monitor struct {
	dialer    web3.Dialer
	log       *slog.Logger
	now       func() time.Time
	sleep     Sleeper
	observers []Observer
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock sets the time source used for ObservedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleeper replaces the inter-tick wait; tests use it to advance time
// without blocking.
func WithSleeper(s Sleeper) Option {
	return func(m *Monitor) {
		if s != nil {
			m.sleep = s
		}
	}
}

// WithObserver registers a tick observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// New creates a Monitor reading through dialer.
func New(dialer web3.Dialer, opts ...Option) *Monitor {
	m := &Monitor{
		dialer: dialer,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.log == nil {
		m.log = logger.Named("monitor")
	}
	return m
}

// CheckOnce runs a single tick. On failure the snapshot is nil; a missing
// contract address yields NOT_CONFIGURED without any network call.
func (m *Monitor) CheckOnce(ctx context.Context, cfg Config) (*TokenSnapshot, error) {
	res := m.tick(ctx, cfg, 1, time.Time{})
	return res.Snapshot, res.Err
}

func (m *Monitor) tick(ctx context.Context, cfg Config, n uint64, last time.Time) Result {
	started := time.Now()
	snapshot, state, err := m.poll(ctx, cfg, func() time.Time { return m.stamp(last) })

	res := Result{Tick: n}
	if err != nil {
		res.Err = err
		res.FailedIn = state
		res.ObservedAt = m.stamp(last)
		m.logFailure(res)
	} else {
		res.Snapshot = snapshot
		res.ObservedAt = snapshot.ObservedAt
		m.log.Info("token snapshot", append([]any{slog.Uint64("tick", n)}, snapshot.LogAttrs()...)...)
	}

	// 上下文已取消的 tick 属于停机过程，不通知观察者，与 Watch 丢弃该结果保持一致。
	if ctx.Err() != nil {
		return res
	}
	elapsed := time.Since(started)
	for _, o := range m.observers {
		o.ObserveTick(ctx, res, elapsed)
	}
	return res
}

func (m *Monitor) poll(ctx context.Context, cfg Config, stamp func() time.Time) (*TokenSnapshot, State, error) {
	contract := strings.TrimSpace(cfg.ContractAddress)
	if contract == "" {
		return nil, StateIdle, xerrors.New(xerrors.CodeNotConfigured, "代币合约地址未配置，合约可能尚未部署")
	}
	wallet := strings.TrimSpace(cfg.WalletAddress)
	if wallet != "" {
		if _, err := web3.ParseAddress("wallet", wallet); err != nil {
			return nil, StateReading, err
		}
	}
	if m.dialer == nil {
		return nil, StateConnecting, xerrors.New(xerrors.CodeConnectivity, "未配置链读取器")
	}

	endpoint := strings.TrimSpace(cfg.RPCEndpoint)
	if endpoint == "" {
		endpoint = web3.DefaultRPCURL
	}

	conn, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, StateConnecting, classify(err, xerrors.CodeConnectivity)
	}
	defer conn.Close()

	meta, err := conn.TokenMeta(ctx, contract)
	if err != nil {
		return nil, StateReading, classify(err, xerrors.CodeContractCall)
	}

	snapshot := &TokenSnapshot{
		Name:            meta.Name,
		Symbol:          meta.Symbol,
		TotalSupply:     units.ToHuman(meta.TotalSupplyRaw, meta.Decimals),
		Decimals:        meta.Decimals,
		ContractAddress: contract,
	}

	if wallet != "" {
		raw, err := conn.BalanceOf(ctx, contract, wallet)
		if err != nil {
			return nil, StateReading, classify(err, xerrors.CodeContractCall)
		}
		balance := units.ToHuman(raw, meta.Decimals)
		snapshot.WalletAddress = wallet
		snapshot.WalletBalance = &balance
	}

	snapshot.ObservedAt = stamp()
	return snapshot, StateReporting, nil
}

// stamp returns the current time, forced strictly after last.
func (m *Monitor) stamp(last time.Time) time.Time {
	now := m.now()
	if !last.IsZero() && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return now
}

func (m *Monitor) logFailure(res Result) {
	code := xerrors.CodeOf(res.Err)
	attrs := []any{
		slog.Uint64("tick", res.Tick),
		slog.String("code", string(code)),
		slog.String("state", string(res.FailedIn)),
		slog.String("error", res.Err.Error()),
	}
	if code == xerrors.CodeNotConfigured {
		m.log.Warn("token not configured", attrs...)
		return
	}
	m.log.Error("token poll failed", attrs...)
}

// classify keeps coded reader errors unchanged and tags anything else with
// the code matching the stage it surfaced in.
func classify(err error, fallback xerrors.Code) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(fallback, err, "")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
