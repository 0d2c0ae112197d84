package web3

import (
	"strings"

	xerrors "CitizenChain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates a 20-byte hex address (with 0x prefix) and returns
// it. Anything else fails with INVALID_ADDRESS.
func ParseAddress(role, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return common.Address{}, invalidAddress(role, raw)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalidAddress(role, raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ValidAddress reports whether raw is a well-formed hex address.
func ValidAddress(raw string) bool {
	_, err := ParseAddress("", raw)
	return err == nil
}

func invalidAddress(role, raw string) error {
	msg := "malformed address " + quote(raw)
	if role != "" {
		msg = role + ": " + msg
	}
	return xerrors.New(xerrors.CodeInvalidAddress, msg, xerrors.WithMetadata("address", raw))
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return "\"" + s + "\""
}
