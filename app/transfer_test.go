package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/adapters/clock"
	"github.com/usagekit/usagekit/adapters/memory"
	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/domain/token"
)

type transferFixture struct {
	svc    *TransferService
	store  *memory.UsageStore
	ledger *memory.TransferLedger
	clock  *clock.Fake
}

func newTransferFixture() *transferFixture {
	store := memory.NewUsageStore()
	ledger := memory.NewTransferLedger()
	clk := clock.NewFake(testNow)
	return &transferFixture{
		svc:    NewTransferService(store, ledger, clk, zerolog.Nop()),
		store:  store,
		ledger: ledger,
		clock:  clk,
	}
}

func TestTransferCreditsCurrentUsage(t *testing.T) {
	f := newTransferFixture()
	tok := token.Encode(3, quota.PeriodKey(testNow))

	result, err := f.svc.Transfer(context.Background(), tok, "user_1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if result.TransferredUnits != 3 {
		t.Errorf("TransferredUnits = %d, want 3", result.TransferredUnits)
	}
	if !result.ClearToken {
		t.Error("successful transfer should clear the token")
	}

	rec, _ := f.store.Get(context.Background(), "user_1")
	if rec.Count != 3 {
		t.Errorf("store count = %d, want 3", rec.Count)
	}
}

func TestTransferAddsToExistingUsage(t *testing.T) {
	f := newTransferFixture()
	today := quota.PeriodKey(testNow)
	f.store.Increment(context.Background(), "user_1", today, 5)

	result, err := f.svc.Transfer(context.Background(), token.Encode(2, today), "user_1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if result.TransferredUnits != 2 {
		t.Errorf("TransferredUnits = %d, want 2", result.TransferredUnits)
	}

	rec, _ := f.store.Get(context.Background(), "user_1")
	if rec.Count != 7 {
		t.Errorf("store count = %d, want 7", rec.Count)
	}
}

func TestTransferIsIdempotent(t *testing.T) {
	f := newTransferFixture()
	tok := token.Encode(3, quota.PeriodKey(testNow))

	if _, err := f.svc.Transfer(context.Background(), tok, "user_1"); err != nil {
		t.Fatalf("first transfer: %v", err)
	}

	// Replay of the same token credits nothing, to any identity.
	result, err := f.svc.Transfer(context.Background(), tok, "user_1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.TransferredUnits != 0 {
		t.Errorf("replay credited %d units", result.TransferredUnits)
	}
	if !result.ClearToken {
		t.Error("replay should still tell the caller to clear the token")
	}

	result, err = f.svc.Transfer(context.Background(), tok, "user_2")
	if err != nil || result.TransferredUnits != 0 {
		t.Errorf("replay to second identity: units=%d err=%v", result.TransferredUnits, err)
	}

	rec, _ := f.store.Get(context.Background(), "user_1")
	if rec.Count != 3 {
		t.Errorf("store count = %d, want 3 (single credit)", rec.Count)
	}
}

func TestTransferStaleTokenCreditsNothing(t *testing.T) {
	f := newTransferFixture()
	tok := token.Encode(3, "2025-06-14") // yesterday

	result, err := f.svc.Transfer(context.Background(), tok, "user_1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if result.TransferredUnits != 0 {
		t.Errorf("stale token credited %d units", result.TransferredUnits)
	}
	if !result.ClearToken {
		t.Error("stale token should be cleared")
	}
}

func TestTransferEmptyTokenCreditsNothing(t *testing.T) {
	f := newTransferFixture()

	result, err := f.svc.Transfer(context.Background(), "", "user_1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if result.TransferredUnits != 0 || !result.ClearToken {
		t.Errorf("result = %+v, want zero credit with clear", result)
	}
}

func TestTransferRequiresIdentity(t *testing.T) {
	f := newTransferFixture()
	tok := token.Encode(3, quota.PeriodKey(testNow))

	_, err := f.svc.Transfer(context.Background(), tok, "")
	if !errors.Is(err, ErrNoIdentity) {
		t.Errorf("err = %v, want ErrNoIdentity", err)
	}
}

func TestTransferFailedCreditKeepsToken(t *testing.T) {
	f := newTransferFixture()
	f.store.FailIncrement = errors.New("db locked")
	tok := token.Encode(3, quota.PeriodKey(testNow))

	result, err := f.svc.Transfer(context.Background(), tok, "user_1")
	if err == nil {
		t.Fatal("expected the credit failure to surface")
	}
	if result.ClearToken {
		t.Error("failed credit must not clear the token")
	}

	// Store recovered: the same token retries to a full credit because the
	// reservation was released.
	f.store.FailIncrement = nil
	result, err = f.svc.Transfer(context.Background(), tok, "user_1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.TransferredUnits != 3 {
		t.Errorf("retry credited %d units, want 3", result.TransferredUnits)
	}
}
