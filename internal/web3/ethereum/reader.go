package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"

	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ContractCaller mirrors the subset of ethclient methods required for
// read-only contract calls. Simulated backends satisfy it as well.
type ContractCaller interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

// Dialer connects to EVM JSON-RPC endpoints.
type Dialer struct{}

// NewDialer returns a Dialer backed by go-ethereum's rpc and ethclient
// packages.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial opens the RPC transport and performs an eth_chainId handshake, since
// HTTP transports do not touch the network until the first request.
func (d *Dialer) Dial(ctx context.Context, rpcEndpoint string) (web3.Conn, error) {
	endpoint := strings.TrimSpace(rpcEndpoint)
	if endpoint == "" {
		return nil, xerrors.New(xerrors.CodeConnectivity, "未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "连接节点失败", xerrors.WithMetadata("endpoint", endpoint))
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "节点握手失败", xerrors.WithMetadata("endpoint", endpoint))
	}

	conn := NewConn(eth)
	conn.chainID = chainID
	conn.closeFn = eth.Close
	return conn, nil
}

// Conn issues typed ERC-20 read calls through a ContractCaller.
type Conn struct {
	caller  ContractCaller
	chainID *big.Int

	mu      sync.Mutex
	closeFn func()
}

// NewConn wraps an existing caller. The caller is not closed by Close.
func NewConn(caller ContractCaller) *Conn {
	return &Conn{caller: caller}
}

// ChainID returns the chain id reported during the handshake, or nil when
// the connection was built with NewConn.
func (c *Conn) ChainID() *big.Int {
	if c.chainID == nil {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

// Close releases the underlying transport.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeFn != nil {
		c.closeFn()
		c.closeFn = nil
	}
}

// TokenMeta reads name, symbol, totalSupply and decimals in that order.
func (c *Conn) TokenMeta(ctx context.Context, contract string) (web3.TokenMeta, error) {
	addr, err := web3.ParseAddress("contract", contract)
	if err != nil {
		return web3.TokenMeta{}, err
	}

	var meta web3.TokenMeta
	if err := c.call(ctx, addr, "name", &meta.Name); err != nil {
		return web3.TokenMeta{}, err
	}
	if err := c.call(ctx, addr, "symbol", &meta.Symbol); err != nil {
		return web3.TokenMeta{}, err
	}
	if err := c.call(ctx, addr, "totalSupply", &meta.TotalSupplyRaw); err != nil {
		return web3.TokenMeta{}, err
	}
	if err := c.call(ctx, addr, "decimals", &meta.Decimals); err != nil {
		return web3.TokenMeta{}, err
	}
	return meta, nil
}

// BalanceOf reads balanceOf(owner) in raw units.
func (c *Conn) BalanceOf(ctx context.Context, contract, owner string) (*big.Int, error) {
	addr, err := web3.ParseAddress("contract", contract)
	if err != nil {
		return nil, err
	}
	ownerAddr, err := web3.ParseAddress("owner", owner)
	if err != nil {
		return nil, err
	}

	var balance *big.Int
	if err := c.call(ctx, addr, "balanceOf", &balance, ownerAddr); err != nil {
		return nil, err
	}
	return balance, nil
}

func (c *Conn) call(ctx context.Context, contract common.Address, method string, out any, args ...any) error {
	if c == nil || c.caller == nil {
		return xerrors.New(xerrors.CodeConnectivity, "未初始化的节点连接")
	}

	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeContractCall, err, fmt.Sprintf("打包 %s 调用失败", method))
	}

	output, err := c.caller.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return classifyCallError(method, contract, err)
	}
	if len(output) == 0 {
		code, codeErr := c.caller.CodeAt(ctx, contract, nil)
		if codeErr != nil {
			return classifyCallError(method, contract, codeErr)
		}
		if len(code) == 0 {
			return contractError(method, contract, errors.New("no contract code at address"))
		}
		return contractError(method, contract, errors.New("empty return data"))
	}

	values, err := erc20ABI.Unpack(method, output)
	if err != nil {
		return contractError(method, contract, fmt.Errorf("decode output: %w", err))
	}
	if len(values) != 1 {
		return contractError(method, contract, fmt.Errorf("expected 1 return value, got %d", len(values)))
	}
	return assign(method, contract, values[0], out)
}

func assign(method string, contract common.Address, value any, out any) error {
	switch dst := out.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			break
		}
		*dst = v
		return nil
	case **big.Int:
		v, ok := value.(*big.Int)
		if !ok || v == nil {
			break
		}
		*dst = new(big.Int).Set(v)
		return nil
	case *uint8:
		v, ok := value.(uint8)
		if !ok {
			break
		}
		*dst = v
		return nil
	}
	return contractError(method, contract, fmt.Errorf("unexpected return type %T", value))
}

// classifyCallError separates transport failures (the node went away) from
// JSON-RPC level failures such as reverts.
func classifyCallError(method string, contract common.Address, err error) error {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return contractError(method, contract, err)
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, fmt.Sprintf("%s 调用时节点不可用", method))
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gethrpc.ErrClientQuit) {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, fmt.Sprintf("%s 调用时节点不可用", method))
	}
	return contractError(method, contract, err)
}

func contractError(method string, contract common.Address, err error) error {
	return xerrors.Wrap(xerrors.CodeContractCall, err, fmt.Sprintf("调用 %s 失败", method),
		xerrors.WithMetadata("method", method),
		xerrors.WithMetadata("contract", contract.Hex()),
	)
}

var (
	_ web3.Dialer = (*Dialer)(nil)
	_ web3.Conn   = (*Conn)(nil)
)
