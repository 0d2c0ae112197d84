package web3

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	xerrors "CitizenChain/internal/errors"
)

func TestParseAddress(t *testing.T) {
	valid := "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	addr, err := ParseAddress("wallet", valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Hex() != valid {
		t.Fatalf("unexpected checksum form %s", addr.Hex())
	}

	for _, raw := range []string{"", "0x123", "5FbDB2315678afecb367f032d93F642f64180aa3", "0xZZbDB2315678afecb367f032d93F642f64180aa3", "not-an-address"} {
		_, err := ParseAddress("wallet", raw)
		if !errors.Is(err, xerrors.ErrInvalidAddress) {
			t.Fatalf("ParseAddress(%q) = %v, want INVALID_ADDRESS", raw, err)
		}
	}
	if ValidAddress("0xTEST") {
		t.Fatalf("0xTEST must not be a valid address")
	}
}

func TestLoadNetworkDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	content := `default: base
networks:
  base:
    chain_id: 8453
    rpc_url: https://mainnet.base.org
    contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    description: Base mainnet
  sepolia:
    type: EVM
    rpc_url: https://sepolia.base.org
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	defs, err := LoadNetworkDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, ok := defs.Lookup("")
	if !ok || def.ChainID != 8453 || def.ContractAddress == "" {
		t.Fatalf("unexpected default network: %+v", def)
	}
	if sep, ok := defs.Lookup("sepolia"); !ok || sep.Type != "evm" {
		t.Fatalf("type should be normalised, got %+v", sep)
	}
	if _, ok := defs.Lookup("missing"); ok {
		t.Fatalf("unknown network must not resolve")
	}
	if names := defs.Names(); len(names) != 2 || names[0] != "base" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestLoadNetworkDefinitionsRejectsUnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte("networks:\n  sol:\n    type: solana\n    rpc_url: http://x\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := LoadNetworkDefinitions(path); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	empty, err := LoadNetworkDefinitions("")
	if err != nil || len(empty.Networks) != 0 {
		t.Fatalf("empty path should produce empty catalogue")
	}
}
