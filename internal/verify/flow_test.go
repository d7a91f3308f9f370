package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"yeoyu-guard/internal/roblox"
	"yeoyu-guard/internal/storage"
)

type fakeResolver struct {
	accounts     map[string]roblox.Account
	descriptions map[int64]string
	unavailable  bool
}

func (r *fakeResolver) Resolve(_ context.Context, handle string) (roblox.Account, error) {
	if r.unavailable {
		return roblox.Account{}, roblox.ErrUnavailable
	}
	acct, ok := r.accounts[handle]
	if !ok {
		return roblox.Account{}, roblox.ErrNotFound
	}
	return acct, nil
}

func (r *fakeResolver) ResolveIDOrName(ctx context.Context, input string) (roblox.Account, error) {
	return r.Resolve(ctx, input)
}

func (r *fakeResolver) Profile(_ context.Context, id int64) (roblox.Profile, error) {
	if r.unavailable {
		return roblox.Profile{}, roblox.ErrUnavailable
	}
	for _, acct := range r.accounts {
		if acct.ID == id {
			return roblox.Profile{Account: acct, Description: r.descriptions[id]}, nil
		}
	}
	return roblox.Profile{}, roblox.ErrNotFound
}

type fakeTokens struct {
	numeric string
	phrase  string
}

func (t *fakeTokens) Numeric() string { return t.numeric }
func (t *fakeTokens) Phrase() string  { return t.phrase }

type fakeBans struct {
	banned map[int64]storage.BanRecord
}

func (b *fakeBans) IsRobloxBanned(_ context.Context, robloxID int64) (storage.BanRecord, bool, error) {
	rec, ok := b.banned[robloxID]
	return rec, ok, nil
}

type fakeGranter struct {
	granted []string
	fail    map[string]bool
}

func (g *fakeGranter) GrantRole(_ context.Context, memberID, roleID string) error {
	if g.fail[roleID] {
		return errors.New("missing permission")
	}
	g.granted = append(g.granted, roleID)
	return nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestFlow(t *testing.T) (*Flow, *storage.Store, *fakeResolver, *fakeGranter) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	resolver := &fakeResolver{
		accounts: map[string]roblox.Account{
			"builderman": {ID: 156, Name: "builderman", DisplayName: "builderman"},
		},
		descriptions: map[int64]string{},
	}
	granter := &fakeGranter{fail: map[string]bool{}}
	flow := NewFlow(store, resolver, &fakeTokens{numeric: "48213", phrase: "여유로운하루"},
		&fakeBans{banned: map[int64]storage.BanRecord{}}, granter,
		[]string{"role-a", "role-b"}, 24*time.Hour, zap.NewNop())
	return flow, store, resolver, granter
}

func TestHappyPathVerification(t *testing.T) {
	flow, _, resolver, granter := newTestFlow(t)
	ctx := context.Background()

	if err := flow.Start(ctx, "m1", false); err != nil {
		t.Fatalf("start: %v", err)
	}
	acct, err := flow.SubmitHandle(ctx, "m1", "builderman")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if acct.ID != 156 {
		t.Fatalf("resolved id = %d, want 156", acct.ID)
	}
	token, err := flow.ConfirmCandidate(ctx, "m1", 156)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	resolver.descriptions[156] = "게임 소개 " + token + " 끝"
	res, err := flow.CheckChallenge(ctx, "m1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Verified || res.AlreadyVerified {
		t.Fatalf("result = %+v, want fresh verification", res)
	}
	if res.RobloxName != "builderman" {
		t.Fatalf("roblox name = %q", res.RobloxName)
	}
	if len(granter.granted) != 2 {
		t.Fatalf("granted %v, want both roles", granter.granted)
	}
}

func TestRepeatCheckIsAlreadyVerified(t *testing.T) {
	flow, _, resolver, granter := newTestFlow(t)
	ctx := context.Background()

	if _, err := flow.SubmitHandle(ctx, "m1", "builderman"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	token, err := flow.ConfirmCandidate(ctx, "m1", 156)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	resolver.descriptions[156] = token

	if _, err := flow.CheckChallenge(ctx, "m1"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	res, err := flow.CheckChallenge(ctx, "m1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if res.Verified || !res.AlreadyVerified {
		t.Fatalf("second check = %+v, want AlreadyVerified", res)
	}
	if len(granter.granted) != 2 {
		t.Fatalf("roles granted %d times, want once per role", len(granter.granted))
	}
}

func TestChallengeMismatchKeepsSession(t *testing.T) {
	flow, _, resolver, _ := newTestFlow(t)
	ctx := context.Background()

	if _, err := flow.SubmitHandle(ctx, "m1", "builderman"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := flow.ConfirmCandidate(ctx, "m1", 156); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	resolver.descriptions[156] = "아무 내용 없음"

	_, err := flow.CheckChallenge(ctx, "m1")
	if !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("err = %v, want ErrChallengeMismatch", err)
	}

	// the session survives a mismatch, so a corrected profile passes
	resolver.descriptions[156] = "48213"
	res, err := flow.CheckChallenge(ctx, "m1")
	if err != nil || !res.Verified {
		t.Fatalf("retry after mismatch: res=%+v err=%v", res, err)
	}
}

func TestRegenerateInvalidatesOldToken(t *testing.T) {
	flow, _, resolver, _ := newTestFlow(t)
	ctx := context.Background()

	if _, err := flow.SubmitHandle(ctx, "m1", "builderman"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	old, err := flow.ConfirmCandidate(ctx, "m1", 156)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	fresh, err := flow.RegenerateChallenge(ctx, "m1")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if fresh == old {
		t.Fatalf("regenerated token equals old token")
	}

	resolver.descriptions[156] = old
	if _, err := flow.CheckChallenge(ctx, "m1"); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("old token accepted after regenerate: %v", err)
	}
	resolver.descriptions[156] = fresh
	res, err := flow.CheckChallenge(ctx, "m1")
	if err != nil || !res.Verified {
		t.Fatalf("fresh token rejected: res=%+v err=%v", res, err)
	}
}

func TestBannedIdentityBlockedAtSubmit(t *testing.T) {
	flow, _, _, _ := newTestFlow(t)
	flow.bans = &fakeBans{banned: map[int64]storage.BanRecord{
		156: {MemberID: "old-member", RobloxID: 156},
	}}
	ctx := context.Background()

	_, err := flow.SubmitHandle(ctx, "m1", "builderman")
	if !errors.Is(err, ErrBannedIdentity) {
		t.Fatalf("err = %v, want ErrBannedIdentity", err)
	}
	if _, found, _ := flow.Lookup(ctx, "m1"); found {
		t.Fatalf("session created for banned identity")
	}
}

func TestSessionExpiry(t *testing.T) {
	flow, store, resolver, _ := newTestFlow(t)
	ctx := context.Background()

	stale := time.Now().Add(-48 * time.Hour)
	if err := store.PutVerification(ctx, storage.VerificationRecord{
		MemberID: "m1", RobloxID: 156, Challenge: "48213",
		Status: storage.StatusChallengeIssued, UpdatedAt: stale,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resolver.descriptions[156] = "48213"

	_, err := flow.CheckChallenge(ctx, "m1")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if _, found, _ := store.GetVerification(ctx, "m1"); found {
		t.Fatalf("expired session not discarded")
	}
}

func TestStaleConfirmButtonRejected(t *testing.T) {
	flow, _, resolver, _ := newTestFlow(t)
	resolver.accounts["otherguy"] = roblox.Account{ID: 999, Name: "otherguy"}
	ctx := context.Background()

	if _, err := flow.SubmitHandle(ctx, "m1", "builderman"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// member re-searched another handle; the first confirm button is stale
	if _, err := flow.SubmitHandle(ctx, "m1", "otherguy"); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if _, err := flow.ConfirmCandidate(ctx, "m1", 156); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("stale confirm err = %v, want ErrSessionExpired", err)
	}
}

func TestResolverOutageIsNotNotFound(t *testing.T) {
	flow, _, resolver, _ := newTestFlow(t)
	resolver.unavailable = true

	_, err := flow.SubmitHandle(context.Background(), "m1", "builderman")
	if !errors.Is(err, ErrResolverUnavailable) {
		t.Fatalf("err = %v, want ErrResolverUnavailable", err)
	}
	if errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("outage reported as account-not-found")
	}
}

func TestRejectCandidateClearsSession(t *testing.T) {
	flow, store, _, _ := newTestFlow(t)
	ctx := context.Background()

	if _, err := flow.SubmitHandle(ctx, "m1", "builderman"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := flow.RejectCandidate(ctx, "m1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, found, _ := store.GetVerification(ctx, "m1"); found {
		t.Fatalf("record still present after reject")
	}
	if err := flow.RejectCandidate(ctx, "m1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("second reject err = %v, want ErrSessionExpired", err)
	}
}

func TestManualVerifySkipsChallenge(t *testing.T) {
	flow, store, _, granter := newTestFlow(t)
	ctx := context.Background()

	acct, err := flow.ManualVerify(ctx, "m1", "builderman")
	if err != nil {
		t.Fatalf("manual verify: %v", err)
	}
	if acct.ID != 156 {
		t.Fatalf("acct = %+v", acct)
	}
	rec, found, err := store.GetVerification(ctx, "m1")
	if err != nil || !found {
		t.Fatalf("record missing: %v", err)
	}
	if rec.Status != storage.StatusVerified {
		t.Fatalf("status = %q, want verified", rec.Status)
	}
	if len(granter.granted) != 2 {
		t.Fatalf("granted %v", granter.granted)
	}
}

func TestStartRejectsVerifiedMember(t *testing.T) {
	flow, store, _, _ := newTestFlow(t)
	ctx := context.Background()

	if err := flow.Start(ctx, "m1", true); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("role holder err = %v", err)
	}
	if err := store.PutVerification(ctx, storage.VerificationRecord{
		MemberID: "m2", RobloxID: 1, Status: storage.StatusVerified,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := flow.Start(ctx, "m2", false); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("record holder err = %v", err)
	}
}
