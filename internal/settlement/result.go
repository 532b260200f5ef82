package settlement

import (
	"math/big"

	"duel-settlement/internal/duel"
)

// Code classifies a settlement attempt so callers can decide whether to
// retry, wait, or abandon.
type Code string

const (
	// CodeSettled: this attempt performed the settlement.
	CodeSettled Code = "settled"
	// CodeAlreadySettled: settled earlier; idempotent success.
	CodeAlreadySettled Code = "already_settled"
	// CodeConflict: another caller holds the settlement lock; back off.
	CodeConflict Code = "conflict"
	// CodeNotReady: the duel window has not elapsed; retry later.
	CodeNotReady Code = "not_ready"
	// CodeInvalid: the duel is in a state that can never settle.
	CodeInvalid Code = "invalid"
	// CodeNotFound: no such duel.
	CodeNotFound Code = "not_found"
	// CodeChainError: the on-chain call failed for a retryable reason.
	CodeChainError Code = "chain_error"
)

// Result is the structured outcome of a Settle call.
type Result struct {
	Code     Code
	Success  bool
	Message  string
	Duel     *duel.Duel
	Winner   *string
	Payout   *big.Int
	Fee      *big.Int
	EndPrice int64
	TxHash   string
}

// Claim is a client-submitted outcome accompanying a settle request.
// It is never trusted: the coordinator recomputes independently and its
// result is authoritative; a mismatch is logged for inspection.
type Claim struct {
	Winner   *string
	EndPrice int64
}
