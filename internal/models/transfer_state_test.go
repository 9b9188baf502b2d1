package models

import "testing"

func TestTransferStateTransitions(t *testing.T) {
	cases := []struct {
		from TransferState
		to   TransferState
		want bool
	}{
		{TransferDone, TransferStarted, true},
		{TransferStarted, TransferFailed, true},
		{TransferStarted, TransferDone, true},
		{TransferFailed, TransferDone, true},
		{TransferFailed, TransferStarted, true},
		{TransferPendingRetry, TransferStarted, true},
		{TransferDone, TransferFailed, false},
		{TransferDone, TransferDone, true},
		{TransferStarted, TransferPermanentFailure, true},
		{TransferDone, TransferPermanentFailure, true},
		{TransferPermanentFailure, TransferFailed, false},
		{TransferPermanentFailure, TransferDone, false},
		{TransferPermanentFailure, TransferStarted, false},
		{TransferPermanentFailure, TransferPermanentFailure, true},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransferStateNeverRegressesFromPermanentFailure(t *testing.T) {
	for _, next := range []TransferState{TransferDone, TransferStarted, TransferPendingRetry, TransferFailed} {
		if TransferPermanentFailure.CanTransition(next) {
			t.Errorf("permanent failure must not regress to %s", next)
		}
	}
}

func TestParseTransferState(t *testing.T) {
	state, err := ParseTransferState("failed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if state != TransferFailed {
		t.Fatalf("expected failed, got %s", state)
	}

	state, err = ParseTransferState("4")
	if err != nil {
		t.Fatalf("parse numeric: %v", err)
	}
	if state != TransferPermanentFailure {
		t.Fatalf("expected permanent_failure, got %s", state)
	}

	if _, err := ParseTransferState("bogus"); err == nil {
		t.Fatal("expected error for unknown state")
	}
	if _, err := ParseTransferState("9"); err == nil {
		t.Fatal("expected error for out-of-range numeric state")
	}
}
