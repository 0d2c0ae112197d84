package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "CitizenChain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	tokenAddress  = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	walletAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

var oneBillionTokens = new(big.Int).Mul(big.NewInt(1_000_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// fakeToken answers ERC-20 read calls with ABI-encoded values.
type fakeToken struct {
	name        string
	symbol      string
	totalSupply *big.Int
	decimals    uint8
	balances    map[common.Address]*big.Int
	code        []byte
	revert      map[string]error
	raw         map[string][]byte
	calls       []string
}

func (f *fakeToken) CallContract(_ context.Context, call gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := erc20ABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, method.Name)
	if err := f.revert[method.Name]; err != nil {
		return nil, err
	}
	if out, ok := f.raw[method.Name]; ok {
		return out, nil
	}
	switch method.Name {
	case "name":
		return method.Outputs.Pack(f.name)
	case "symbol":
		return method.Outputs.Pack(f.symbol)
	case "totalSupply":
		return method.Outputs.Pack(f.totalSupply)
	case "decimals":
		return method.Outputs.Pack(f.decimals)
	case "balanceOf":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		owner := args[0].(common.Address)
		balance := f.balances[owner]
		if balance == nil {
			balance = big.NewInt(0)
		}
		return method.Outputs.Pack(balance)
	}
	return nil, errors.New("unsupported method")
}

func (f *fakeToken) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

// revertError mimics the JSON-RPC error returned for a reverted eth_call.
type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }

func newFakeToken() *fakeToken {
	return &fakeToken{
		name:        "Citizen Token",
		symbol:      "CITY",
		totalSupply: oneBillionTokens,
		decimals:    18,
		balances:    map[common.Address]*big.Int{},
		code:        []byte{0x60, 0x80},
	}
}

func TestConnTokenMeta(t *testing.T) {
	token := newFakeToken()
	conn := NewConn(token)

	meta, err := conn.TokenMeta(context.Background(), tokenAddress)
	if err != nil {
		t.Fatalf("token meta: %v", err)
	}
	if meta.Name != "Citizen Token" || meta.Symbol != "CITY" || meta.Decimals != 18 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.TotalSupplyRaw.Cmp(oneBillionTokens) != 0 {
		t.Fatalf("unexpected total supply %s", meta.TotalSupplyRaw)
	}
	if got := strings.Join(token.calls, ","); got != "name,symbol,totalSupply,decimals" {
		t.Fatalf("calls must be issued sequentially in order, got %s", got)
	}
}

func TestConnBalanceOf(t *testing.T) {
	token := newFakeToken()
	raw := new(big.Int).Mul(big.NewInt(4_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	token.balances[common.HexToAddress(walletAddress)] = raw

	balance, err := NewConn(token).BalanceOf(context.Background(), tokenAddress, walletAddress)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(raw) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestConnBalanceOfRejectsMalformedOwner(t *testing.T) {
	token := newFakeToken()
	_, err := NewConn(token).BalanceOf(context.Background(), tokenAddress, "0xTEST")
	if !errors.Is(err, xerrors.ErrInvalidAddress) {
		t.Fatalf("expected INVALID_ADDRESS, got %v", err)
	}
	if len(token.calls) != 0 {
		t.Fatalf("no call should be issued for a malformed owner")
	}
}

func TestConnContractCallFailures(t *testing.T) {
	t.Run("revert", func(t *testing.T) {
		token := newFakeToken()
		token.revert = map[string]error{"symbol": revertError{}}
		_, err := NewConn(token).TokenMeta(context.Background(), tokenAddress)
		if !errors.Is(err, xerrors.ErrContractCall) {
			t.Fatalf("expected CONTRACT_CALL_FAILURE, got %v", err)
		}
	})

	t.Run("no code", func(t *testing.T) {
		token := newFakeToken()
		token.code = nil
		token.raw = map[string][]byte{"name": {}}
		_, err := NewConn(token).TokenMeta(context.Background(), tokenAddress)
		if !errors.Is(err, xerrors.ErrContractCall) || !strings.Contains(err.Error(), "no contract code") {
			t.Fatalf("expected no-code contract error, got %v", err)
		}
	})

	t.Run("undecodable", func(t *testing.T) {
		token := newFakeToken()
		token.raw = map[string][]byte{"decimals": {0x01, 0x02}}
		_, err := NewConn(token).TokenMeta(context.Background(), tokenAddress)
		if !errors.Is(err, xerrors.ErrContractCall) {
			t.Fatalf("expected CONTRACT_CALL_FAILURE, got %v", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		token := newFakeToken()
		token.revert = map[string]error{"name": context.DeadlineExceeded}
		_, err := NewConn(token).TokenMeta(context.Background(), tokenAddress)
		if !errors.Is(err, xerrors.ErrConnectivity) {
			t.Fatalf("expected CONNECTIVITY_FAILURE, got %v", err)
		}
	})
}

// jsonRPCNode serves eth_chainId and eth_call backed by a fakeToken.
func jsonRPCNode(t *testing.T, token *fakeToken) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result any
		switch req.Method {
		case "eth_chainId":
			result = "0x2105"
		case "eth_call":
			var call struct {
				To    common.Address `json:"to"`
				Data  hexutil.Bytes  `json:"data"`
				Input hexutil.Bytes  `json:"input"`
			}
			if err := json.Unmarshal(req.Params[0], &call); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data := call.Input
			if len(data) == 0 {
				data = call.Data
			}
			out, err := token.CallContract(r.Context(), gethcore.CallMsg{To: &call.To, Data: data}, nil)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			result = hexutil.Bytes(out)
		default:
			http.Error(w, "method not found", http.StatusNotFound)
			return
		}

		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}))
}

func TestDialerOverJSONRPC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node := jsonRPCNode(t, newFakeToken())
	defer node.Close()

	conn, err := NewDialer().Dial(ctx, node.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if id := conn.(*Conn).ChainID(); id == nil || id.Int64() != 8453 {
		t.Fatalf("unexpected chain id %v", id)
	}

	meta, err := conn.TokenMeta(ctx, tokenAddress)
	if err != nil {
		t.Fatalf("token meta over rpc: %v", err)
	}
	if meta.Symbol != "CITY" || meta.TotalSupplyRaw.Cmp(oneBillionTokens) != 0 {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestDialerConnectivityFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("empty endpoint", func(t *testing.T) {
		if _, err := NewDialer().Dial(ctx, "  "); !errors.Is(err, xerrors.ErrConnectivity) {
			t.Fatalf("expected CONNECTIVITY_FAILURE, got %v", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		node := httptest.NewServer(http.NotFoundHandler())
		url := node.URL
		node.Close()
		if _, err := NewDialer().Dial(ctx, url); !errors.Is(err, xerrors.ErrConnectivity) {
			t.Fatalf("expected CONNECTIVITY_FAILURE, got %v", err)
		}
	})

	t.Run("malformed handshake", func(t *testing.T) {
		node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>gateway</html>"))
		}))
		defer node.Close()
		if _, err := NewDialer().Dial(ctx, node.URL); !errors.Is(err, xerrors.ErrConnectivity) {
			t.Fatalf("expected CONNECTIVITY_FAILURE, got %v", err)
		}
	})
}
