package chain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// dataError is the shape go-ethereum RPC errors expose revert data
// through (rpc.DataError).
type dataError interface {
	Error() string
	ErrorData() interface{}
}

// classifyRevert maps a contract revert onto the engine's error taxonomy.
// Selector-based detection is preferred; substring matching on the revert
// reason is the fallback for providers that only relay the message.
func classifyRevert(err error) error {
	if err == nil {
		return nil
	}

	if de, ok := err.(dataError); ok {
		if data, ok := de.ErrorData().(string); ok && matchesSelector(data, alreadySettledSelector) {
			return fmt.Errorf("%w: %s", ErrAlreadySettled, de.Error())
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already settled"), strings.Contains(msg, "alreadysettled"):
		return fmt.Errorf("%w: %s", ErrAlreadySettled, err.Error())
	case strings.Contains(msg, "not ended"), strings.Contains(msg, "too early"), strings.Contains(msg, "notended"):
		return fmt.Errorf("%w: %s", ErrNotReadyOnChain, err.Error())
	default:
		return fmt.Errorf("settle duel reverted: %w", err)
	}
}

func matchesSelector(data string, selector []byte) bool {
	data = strings.TrimPrefix(data, "0x")
	if len(data) < 8 {
		return false
	}
	raw, err := hex.DecodeString(data[:8])
	if err != nil {
		return false
	}
	return string(raw) == string(selector)
}
