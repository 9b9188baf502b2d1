package models

import "fmt"

// TransferState tracks per-attachment download/upload progress. Done doubles
// as the initial state for locally-sourced content and the terminal success
// state for transfers.
type TransferState int

const (
	TransferDone             TransferState = 0
	TransferStarted          TransferState = 1
	TransferPendingRetry     TransferState = 2
	TransferFailed           TransferState = 3
	TransferPermanentFailure TransferState = 4
)

var transferStateNames = map[TransferState]string{
	TransferDone:             "done",
	TransferStarted:          "started",
	TransferPendingRetry:     "pending_retry",
	TransferFailed:           "failed",
	TransferPermanentFailure: "permanent_failure",
}

func (s TransferState) String() string {
	if name, ok := transferStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("transfer_state(%d)", int(s))
}

// Valid reports whether s is a known transfer state.
func (s TransferState) Valid() bool {
	_, ok := transferStateNames[s]
	return ok
}

// Terminal reports whether no further transitions are expected out of s
// except the idempotent re-set of the same state.
func (s TransferState) Terminal() bool {
	return s == TransferPermanentFailure
}

// CanTransition reports whether moving from s to next is a legal transition.
// PermanentFailure never regresses; PermanentFailure itself is reachable
// from every state.
func (s TransferState) CanTransition(next TransferState) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if next == TransferPermanentFailure {
		return true
	}
	if s == TransferPermanentFailure {
		return false
	}
	switch s {
	case TransferDone:
		return next == TransferStarted
	case TransferStarted:
		return next == TransferDone || next == TransferFailed || next == TransferPendingRetry
	case TransferPendingRetry:
		return next == TransferStarted || next == TransferFailed || next == TransferDone
	case TransferFailed:
		return next == TransferStarted || next == TransferDone || next == TransferPendingRetry
	}
	return false
}

// ParseTransferState resolves a state name or numeric value.
func ParseTransferState(raw string) (TransferState, error) {
	for state, name := range transferStateNames {
		if name == raw {
			return state, nil
		}
	}
	var numeric int
	if _, err := fmt.Sscanf(raw, "%d", &numeric); err == nil {
		state := TransferState(numeric)
		if state.Valid() {
			return state, nil
		}
	}
	return 0, fmt.Errorf("invalid transfer state: %s", raw)
}
