package ledger

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"yeoyu-guard/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(store, zap.NewNop()), store
}

func TestBanRequiresVerification(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if _, err := ledger.Ban(context.Background(), "u1", "테러"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}

func TestBanUnbanRoundTrip(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	rec := storage.VerificationRecord{MemberID: "u1", RobloxID: 42, RobloxName: "badguy", Status: storage.StatusVerified}
	if err := store.PutVerification(ctx, rec); err != nil {
		t.Fatalf("put verification: %v", err)
	}

	ban, err := ledger.Ban(ctx, "u1", "테러")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if ban.RobloxID != 42 || ban.RobloxName != "badguy" {
		t.Fatalf("ban did not source identity: %+v", ban)
	}

	if _, banned, _ := ledger.IsRobloxBanned(ctx, 42); !banned {
		t.Fatalf("roblox id should be banned")
	}

	// the verification record survives the ban
	if _, found, _ := store.GetVerification(ctx, "u1"); !found {
		t.Fatalf("verification record must remain")
	}

	if _, err := ledger.Unban(ctx, "u1"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if _, banned, _ := ledger.IsRobloxBanned(ctx, 42); banned {
		t.Fatalf("roblox id should no longer be banned")
	}
	if _, err := ledger.Unban(ctx, "u1"); !errors.Is(err, ErrNotBanned) {
		t.Fatalf("expected ErrNotBanned, got %v", err)
	}
}
