package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/web3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "0x4200000000000000000000000000000000000042"
	testWallet   = "0x00000000000000000000000000000000000000A1"
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func whole(n int64, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(decimals))
}

// stubDialer counts dials and hands out stubConns driven by per-tick hooks.
type stubDialer struct {
	mu        sync.Mutex
	dials     int
	closes    int
	endpoints []string

	dialErr   func(n int) error
	meta      func(n int) (web3.TokenMeta, error)
	balance   func(n int) (*big.Int, error)
	balanceOf []string
}

func (d *stubDialer) Dial(_ context.Context, endpoint string) (web3.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.endpoints = append(d.endpoints, endpoint)
	if d.dialErr != nil {
		if err := d.dialErr(d.dials); err != nil {
			return nil, err
		}
	}
	return &stubConn{d: d, n: d.dials}, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stubConn struct {
	d *stubDialer
	n int
}

func (c *stubConn) TokenMeta(context.Context, string) (web3.TokenMeta, error) {
	if c.d.meta == nil {
		return web3.TokenMeta{Name: "Citizen", Symbol: "CTZN", TotalSupplyRaw: whole(1_000_000_000, 18), Decimals: 18}, nil
	}
	return c.d.meta(c.n)
}

func (c *stubConn) BalanceOf(_ context.Context, _ string, owner string) (*big.Int, error) {
	c.d.mu.Lock()
	c.d.balanceOf = append(c.d.balanceOf, owner)
	c.d.mu.Unlock()
	if c.d.balance == nil {
		return whole(4_000_000, 18), nil
	}
	return c.d.balance(c.n)
}

func (c *stubConn) Close() {
	c.d.mu.Lock()
	c.d.closes++
	c.d.mu.Unlock()
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestCheckOnceNotConfiguredMakesNoCalls(t *testing.T) {
	dialer := &stubDialer{}
	log, buf := bufferLogger()
	m := New(dialer, WithLogger(log))

	snap, err := m.CheckOnce(context.Background(), Config{ContractAddress: "   "})
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, xerrors.ErrNotConfigured)
	assert.Zero(t, dialer.dialCount())
	assert.Contains(t, buf.String(), `"code":"NOT_CONFIGURED"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestCheckOnceConnectivityFailure(t *testing.T) {
	dialer := &stubDialer{dialErr: func(int) error {
		return xerrors.Wrap(xerrors.CodeConnectivity, errors.New("connection refused"), "")
	}}
	log, buf := bufferLogger()
	m := New(dialer, WithLogger(log))

	snap, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract})
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, xerrors.ErrConnectivity)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Contains(t, buf.String(), `"state":"connecting"`)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"), "exactly one log line per tick")
}

func TestCheckOnceUsesDefaultEndpoint(t *testing.T) {
	dialer := &stubDialer{}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)))

	_, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract})
	require.NoError(t, err)
	require.Equal(t, []string{web3.DefaultRPCURL}, dialer.endpoints)
}

func TestCheckOnceEndToEnd(t *testing.T) {
	dialer := &stubDialer{}
	log, buf := bufferLogger()
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	m := New(dialer, WithLogger(log), WithClock(fixedClock(at)))

	snap, err := m.CheckOnce(context.Background(), Config{
		RPCEndpoint:     "http://node.local",
		ContractAddress: testContract,
		WalletAddress:   testWallet,
	})
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "Citizen", snap.Name)
	assert.Equal(t, "CTZN", snap.Symbol)
	assert.Equal(t, uint8(18), snap.Decimals)
	assert.Equal(t, "1000000000", snap.TotalSupply.String())
	require.True(t, snap.HasWallet())
	assert.Equal(t, "4000000", snap.WalletBalance.String())
	assert.Equal(t, testWallet, snap.WalletAddress)
	assert.Equal(t, at, snap.ObservedAt)

	out := buf.String()
	assert.Contains(t, out, `"total_supply":"1,000,000,000"`)
	assert.Contains(t, out, `"wallet_balance":"4,000,000"`)
	assert.Equal(t, 1, dialer.closes, "connection closed at the end of the tick")
}

func TestCheckOnceWithoutWalletSkipsBalance(t *testing.T) {
	dialer := &stubDialer{}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)))

	snap, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract})
	require.NoError(t, err)
	assert.False(t, snap.HasWallet())
	assert.Empty(t, dialer.balanceOf)
}

func TestCheckOnceMalformedWalletFailsBeforeDial(t *testing.T) {
	dialer := &stubDialer{}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)))

	snap, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract, WalletAddress: "0x1234"})
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, xerrors.ErrInvalidAddress)
	assert.Zero(t, dialer.dialCount())

	var failed Result
	m = New(dialer, WithLogger(slog.New(slog.DiscardHandler)), WithObserver(ObserverFunc(func(_ context.Context, res Result, _ time.Duration) {
		failed = res
	})))
	_, _ = m.CheckOnce(context.Background(), Config{ContractAddress: testContract, WalletAddress: "0x1234"})
	assert.Equal(t, StateReading, failed.FailedIn)
}

func TestCheckOnceBalanceFailureYieldsNoPartialSnapshot(t *testing.T) {
	dialer := &stubDialer{balance: func(int) (*big.Int, error) {
		return nil, xerrors.New(xerrors.CodeContractCall, "execution reverted")
	}}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)))

	snap, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract, WalletAddress: testWallet})
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, xerrors.ErrContractCall)
	assert.Equal(t, 1, dialer.closes)
}

func TestCheckOnceClassifiesUncodedErrors(t *testing.T) {
	t.Run("dial", func(t *testing.T) {
		dialer := &stubDialer{dialErr: func(int) error { return errors.New("boom") }}
		m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)))
		_, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract})
		assert.ErrorIs(t, err, xerrors.ErrConnectivity)
	})
	t.Run("read", func(t *testing.T) {
		dialer := &stubDialer{meta: func(int) (web3.TokenMeta, error) { return web3.TokenMeta{}, errors.New("bad output") }}
		m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)))
		_, err := m.CheckOnce(context.Background(), Config{ContractAddress: testContract})
		assert.ErrorIs(t, err, xerrors.ErrContractCall)
	})
}

func TestWatchStrictlyIncreasingObservedAt(t *testing.T) {
	dialer := &stubDialer{}
	at := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	m := New(dialer,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClock(fixedClock(at)),
		WithSleeper(noSleep),
	)

	const n = 5
	var results []Result
	for res := range m.Watch(context.Background(), Config{ContractAddress: testContract}, 0) {
		results = append(results, res)
		if len(results) == n {
			break
		}
	}

	require.Len(t, results, n)
	for i, res := range results {
		require.True(t, res.OK(), "tick %d", i+1)
		assert.Equal(t, uint64(i+1), res.Tick)
		assert.Equal(t, res.ObservedAt, res.Snapshot.ObservedAt)
		if i > 0 {
			assert.True(t, res.ObservedAt.After(results[i-1].ObservedAt), "tick %d not after tick %d", i+1, i)
		}
	}
	assert.Equal(t, n, dialer.dialCount())
	assert.Equal(t, n, dialer.closes)
}

func TestWatchSurvivesFailedTicks(t *testing.T) {
	dialer := &stubDialer{dialErr: func(n int) error {
		if n == 2 {
			return xerrors.New(xerrors.CodeConnectivity, "node restarting")
		}
		return nil
	}}

	var mu sync.Mutex
	var waits []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}

	var observed []Result
	m := New(dialer,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithSleeper(sleeper),
		WithObserver(ObserverFunc(func(_ context.Context, res Result, _ time.Duration) {
			observed = append(observed, res)
		})),
	)

	var results []Result
	for res := range m.Watch(context.Background(), Config{ContractAddress: testContract}, time.Minute) {
		results = append(results, res)
		if len(results) == 3 {
			break
		}
	}

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Nil(t, results[1].Snapshot)
	assert.Equal(t, StateConnecting, results[1].FailedIn)
	assert.ErrorIs(t, results[1].Err, xerrors.ErrConnectivity)
	assert.True(t, results[2].OK())

	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, waits, "first tick is immediate")
	assert.Len(t, observed, 3)
}

func TestWatchIsNotRestartable(t *testing.T) {
	dialer := &stubDialer{}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)), WithSleeper(noSleep))
	seq := m.Watch(context.Background(), Config{ContractAddress: testContract}, 0)

	for range seq {
		break
	}
	second := 0
	for range seq {
		second++
		break
	}
	assert.Zero(t, second)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &stubDialer{}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)), WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	count := 0
	for range m.Watch(ctx, Config{ContractAddress: testContract}, time.Hour) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestWatchTicksAreIndependentOfEarlierDecimals(t *testing.T) {
	dialer := &stubDialer{meta: func(n int) (web3.TokenMeta, error) {
		if n == 1 {
			return web3.TokenMeta{Name: "Citizen", Symbol: "CTZN", TotalSupplyRaw: big.NewInt(7), Decimals: 0}, nil
		}
		return web3.TokenMeta{Name: "Citizen", Symbol: "CTZN", TotalSupplyRaw: whole(1_000_000_000, 18), Decimals: 18}, nil
	}}
	m := New(dialer, WithLogger(slog.New(slog.DiscardHandler)), WithSleeper(noSleep))
	cfg := Config{ContractAddress: testContract}

	var results []Result
	for res := range m.Watch(context.Background(), cfg, 0) {
		results = append(results, res)
		if len(results) == 3 {
			break
		}
	}
	require.Len(t, results, 3)
	for i, res := range results {
		require.True(t, res.OK(), "tick %d: %v", i+1, res.Err)
	}
	assert.Equal(t, "7", results[0].Snapshot.TotalSupply.String())
	assert.Equal(t, uint8(0), results[0].Snapshot.Decimals)
	assert.Equal(t, "1000000000", results[1].Snapshot.TotalSupply.String())
	assert.Equal(t, uint8(18), results[2].Snapshot.Decimals)

	snap, err := m.CheckOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), snap.Decimals)
}

func TestCancelledTickIsNotObserved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &stubDialer{meta: func(int) (web3.TokenMeta, error) {
		cancel()
		return web3.TokenMeta{}, context.Canceled
	}}
	observed := 0
	m := New(dialer,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithSleeper(noSleep),
		WithObserver(ObserverFunc(func(context.Context, Result, time.Duration) { observed++ })),
	)

	count := 0
	for range m.Watch(ctx, Config{ContractAddress: testContract}, 0) {
		count++
	}
	assert.Zero(t, count)
	assert.Zero(t, observed)
}
