package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestVerificationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, found, err := store.GetVerification(ctx, "u1"); err != nil || found {
		t.Fatalf("expected no record, found=%t err=%v", found, err)
	}

	rec := VerificationRecord{MemberID: "u1", RobloxID: 42, Status: StatusPending}
	if err := store.PutVerification(ctx, rec); err != nil {
		t.Fatalf("put verification: %v", err)
	}

	ok, err := store.SetChallenge(ctx, "u1", "48213")
	if err != nil || !ok {
		t.Fatalf("set challenge: ok=%t err=%v", ok, err)
	}

	got, found, err := store.GetVerification(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("get verification: found=%t err=%v", found, err)
	}
	if got.Status != StatusChallengeIssued || got.Challenge != "48213" {
		t.Fatalf("unexpected record %+v", got)
	}

	ok, err = store.MarkVerified(ctx, "u1", "playerone")
	if err != nil || !ok {
		t.Fatalf("mark verified: ok=%t err=%v", ok, err)
	}
	got, _, _ = store.GetVerification(ctx, "u1")
	if got.Status != StatusVerified || got.RobloxName != "playerone" || got.Challenge != "" {
		t.Fatalf("unexpected record after verify %+v", got)
	}
}

func TestMarkVerifiedIsSingleShot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := VerificationRecord{MemberID: "u1", RobloxID: 9, Status: StatusPending}
	if err := store.PutVerification(ctx, rec); err != nil {
		t.Fatalf("put verification: %v", err)
	}
	if _, err := store.SetChallenge(ctx, "u1", "12345"); err != nil {
		t.Fatalf("set challenge: %v", err)
	}

	first, err := store.MarkVerified(ctx, "u1", "playerone")
	if err != nil || !first {
		t.Fatalf("first mark verified: ok=%t err=%v", first, err)
	}
	second, err := store.MarkVerified(ctx, "u1", "playerone")
	if err != nil {
		t.Fatalf("second mark verified: %v", err)
	}
	if second {
		t.Fatalf("second mark verified should not win")
	}
}

func TestSetChallengeWithoutRecord(t *testing.T) {
	store := newTestStore(t)
	ok, err := store.SetChallenge(context.Background(), "missing", "11111")
	if err != nil {
		t.Fatalf("set challenge: %v", err)
	}
	if ok {
		t.Fatalf("expected no row to update")
	}
}

func TestBanRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ban := BanRecord{MemberID: "u1", RobloxID: 42, RobloxName: "badguy", Reason: "테러"}
	if err := store.PutBan(ctx, ban); err != nil {
		t.Fatalf("put ban: %v", err)
	}

	got, found, err := store.GetBan(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("get ban: found=%t err=%v", found, err)
	}
	if got.RobloxName != "badguy" || got.Reason != "테러" {
		t.Fatalf("unexpected ban %+v", got)
	}

	byRoblox, found, err := store.GetBanByRobloxID(ctx, 42)
	if err != nil || !found {
		t.Fatalf("get ban by roblox id: found=%t err=%v", found, err)
	}
	if byRoblox.MemberID != "u1" {
		t.Fatalf("unexpected member %q", byRoblox.MemberID)
	}

	if err := store.DeleteBan(ctx, "u1"); err != nil {
		t.Fatalf("delete ban: %v", err)
	}
	if _, found, _ := store.GetBan(ctx, "u1"); found {
		t.Fatalf("ban should be gone")
	}
}

func TestAuditLogRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := AuditLog{GuildID: "g1", UserID: "u1", Level: "WARN", Event: "quarantine", CreatedAt: time.Now().AddDate(0, 0, -30)}
	fresh := AuditLog{GuildID: "g1", UserID: "u2", Level: "INFO", Event: "verified", CreatedAt: time.Now()}
	if err := store.AddAuditLog(ctx, old); err != nil {
		t.Fatalf("add old: %v", err)
	}
	if err := store.AddAuditLog(ctx, fresh); err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	if err := store.CleanupAuditLogs(ctx, 14); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().AddDate(0, 0, -60))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "verified" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}
