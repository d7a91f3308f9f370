package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"yeoyu-guard/internal/roblox"
	"yeoyu-guard/internal/storage"
)

// Resolver turns user-supplied handles into Roblox accounts and fetches
// profile descriptions for challenge checks.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (roblox.Account, error)
	ResolveIDOrName(ctx context.Context, input string) (roblox.Account, error)
	Profile(ctx context.Context, id int64) (roblox.Profile, error)
}

// TokenSource issues challenge tokens. Numeric is used for the first
// challenge of a session, Phrase for regenerated ones.
type TokenSource interface {
	Numeric() string
	Phrase() string
}

// BanChecker reports whether a Roblox identity is on the ban ledger.
type BanChecker interface {
	IsRobloxBanned(ctx context.Context, robloxID int64) (storage.BanRecord, bool, error)
}

// RoleGranter applies one verified role to a member.
type RoleGranter interface {
	GrantRole(ctx context.Context, memberID, roleID string) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CheckResult reports the outcome of a successful challenge check. Exactly
// one of Verified and AlreadyVerified is true: Verified means this call won
// the transition, AlreadyVerified means a concurrent or earlier call did and
// this one is a harmless repeat.
type CheckResult struct {
	Verified        bool
	AlreadyVerified bool
	RobloxID        int64
	RobloxName      string
}

// Flow drives the verification state machine: handle submission, candidate
// confirmation, challenge issue and check, and the verified commit. All
// operations are keyed by Discord member ID; per-member locking keeps
// concurrent button presses from interleaving.
type Flow struct {
	store    *storage.Store
	resolver Resolver
	tokens   TokenSource
	bans     BanChecker
	granter  RoleGranter

	verifiedRoles []string
	sessionTTL    time.Duration
	clock         Clock
	logger        *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFlow(store *storage.Store, resolver Resolver, tokens TokenSource, bans BanChecker, granter RoleGranter, verifiedRoles []string, sessionTTL time.Duration, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		store:         store,
		resolver:      resolver,
		tokens:        tokens,
		bans:          bans,
		granter:       granter,
		verifiedRoles: verifiedRoles,
		sessionTTL:    sessionTTL,
		clock:         systemClock{},
		logger:        logger,
		locks:         make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the time source. Test hook.
func (f *Flow) WithClock(c Clock) *Flow {
	f.clock = c
	return f
}

func (f *Flow) memberLock(memberID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[memberID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[memberID] = l
	}
	return l
}

// Start gates entry into the flow. A member who already carries a verified
// role, or has a verified record, is turned away.
func (f *Flow) Start(ctx context.Context, memberID string, hasVerifiedRole bool) error {
	if hasVerifiedRole {
		return ErrAlreadyVerified
	}
	rec, found, err := f.store.GetVerification(ctx, memberID)
	if err != nil {
		return err
	}
	if found && rec.Status == storage.StatusVerified {
		return ErrAlreadyVerified
	}
	return nil
}

// SubmitHandle resolves the handle to a candidate account and opens a
// pending session. A candidate whose Roblox ID is on the ban ledger stops
// the flow immediately with ErrBannedIdentity.
func (f *Flow) SubmitHandle(ctx context.Context, memberID, handle string) (roblox.Account, error) {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	if verified, err := f.isVerified(ctx, memberID); err != nil {
		return roblox.Account{}, err
	} else if verified {
		return roblox.Account{}, ErrAlreadyVerified
	}

	acct, err := f.resolver.Resolve(ctx, strings.TrimSpace(handle))
	if err != nil {
		return roblox.Account{}, mapResolverError(err)
	}

	if err := f.checkBanLedger(ctx, acct.ID); err != nil {
		return roblox.Account{}, err
	}

	rec := storage.VerificationRecord{
		MemberID:   memberID,
		RobloxID:   acct.ID,
		RobloxName: acct.Name,
		Status:     storage.StatusPending,
		UpdatedAt:  f.clock.Now(),
	}
	if err := f.store.PutVerification(ctx, rec); err != nil {
		return roblox.Account{}, err
	}
	f.logger.Info("verification candidate resolved",
		zap.String("member_id", memberID),
		zap.Int64("roblox_id", acct.ID),
		zap.String("roblox_name", acct.Name))
	return acct, nil
}

// ConfirmCandidate accepts the candidate shown at submit time and issues the
// first challenge token. The robloxID comes back out of the button so a
// stale press against a replaced session is detected and rejected.
func (f *Flow) ConfirmCandidate(ctx context.Context, memberID string, robloxID int64) (string, error) {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := f.sessionRecord(ctx, memberID)
	if err != nil {
		return "", err
	}
	if rec.RobloxID != robloxID {
		return "", ErrSessionExpired
	}

	if err := f.checkBanLedger(ctx, rec.RobloxID); err != nil {
		return "", err
	}

	token := f.tokens.Numeric()
	ok, err := f.store.SetChallenge(ctx, memberID, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSessionExpired
	}
	return token, nil
}

// RejectCandidate abandons the attempt and discards its session. Verified
// state is never touched.
func (f *Flow) RejectCandidate(ctx context.Context, memberID string) error {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	rec, found, err := f.store.GetVerification(ctx, memberID)
	if err != nil {
		return err
	}
	if !found || rec.Status == storage.StatusVerified {
		return ErrSessionExpired
	}
	return f.store.DeleteVerification(ctx, memberID)
}

// RegenerateChallenge invalidates the current token and issues a fresh
// phrase token against the same candidate.
func (f *Flow) RegenerateChallenge(ctx context.Context, memberID string) (string, error) {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := f.sessionRecord(ctx, memberID)
	if err != nil {
		return "", err
	}
	if rec.Status != storage.StatusChallengeIssued {
		return "", ErrSessionExpired
	}

	token := f.tokens.Phrase()
	ok, err := f.store.SetChallenge(ctx, memberID, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSessionExpired
	}
	return token, nil
}

// CheckChallenge fetches the candidate's profile description and looks for
// the issued token. On a match the record is committed verified in a single
// compare-and-swap, so only one of any number of simultaneous checks wins;
// the rest (and any later press) come back AlreadyVerified. Roles are
// granted best-effort per role only by the winning call.
func (f *Flow) CheckChallenge(ctx context.Context, memberID string) (CheckResult, error) {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	rec, found, err := f.store.GetVerification(ctx, memberID)
	if err != nil {
		return CheckResult{}, err
	}
	if !found {
		return CheckResult{}, ErrSessionExpired
	}
	if rec.Status == storage.StatusVerified {
		return CheckResult{AlreadyVerified: true, RobloxID: rec.RobloxID, RobloxName: rec.RobloxName}, nil
	}
	if rec.Status != storage.StatusChallengeIssued || rec.Challenge == "" {
		return CheckResult{}, ErrSessionExpired
	}
	if f.expired(rec) {
		if err := f.store.DeleteVerification(ctx, memberID); err != nil {
			return CheckResult{}, err
		}
		return CheckResult{}, ErrSessionExpired
	}

	profile, err := f.resolver.Profile(ctx, rec.RobloxID)
	if err != nil {
		return CheckResult{}, mapResolverError(err)
	}
	if !strings.Contains(profile.Description, rec.Challenge) {
		return CheckResult{}, ErrChallengeMismatch
	}

	won, err := f.store.MarkVerified(ctx, memberID, profile.Name)
	if err != nil {
		return CheckResult{}, err
	}
	if !won {
		return CheckResult{AlreadyVerified: true, RobloxID: rec.RobloxID, RobloxName: rec.RobloxName}, nil
	}

	f.grantRoles(ctx, memberID)
	f.logger.Info("member verified",
		zap.String("member_id", memberID),
		zap.Int64("roblox_id", rec.RobloxID),
		zap.String("roblox_name", profile.Name))
	return CheckResult{Verified: true, RobloxID: rec.RobloxID, RobloxName: profile.Name}, nil
}

// ManualVerify links a member to a Roblox account by operator fiat, skipping
// the challenge entirely. The ban ledger still applies.
func (f *Flow) ManualVerify(ctx context.Context, memberID, idOrName string) (roblox.Account, error) {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	acct, err := f.resolver.ResolveIDOrName(ctx, strings.TrimSpace(idOrName))
	if err != nil {
		return roblox.Account{}, mapResolverError(err)
	}
	if err := f.checkBanLedger(ctx, acct.ID); err != nil {
		return roblox.Account{}, err
	}

	rec := storage.VerificationRecord{
		MemberID:   memberID,
		RobloxID:   acct.ID,
		RobloxName: acct.Name,
		Status:     storage.StatusVerified,
		UpdatedAt:  f.clock.Now(),
	}
	if err := f.store.PutVerification(ctx, rec); err != nil {
		return roblox.Account{}, err
	}

	f.grantRoles(ctx, memberID)
	f.logger.Info("member manually verified",
		zap.String("member_id", memberID),
		zap.Int64("roblox_id", acct.ID),
		zap.String("roblox_name", acct.Name))
	return acct, nil
}

// Lookup returns the stored verification record for a member.
func (f *Flow) Lookup(ctx context.Context, memberID string) (storage.VerificationRecord, bool, error) {
	return f.store.GetVerification(ctx, memberID)
}

// Reset discards a member's verification record regardless of state, so the
// member can link a different account.
func (f *Flow) Reset(ctx context.Context, memberID string) error {
	lock := f.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()
	return f.store.DeleteVerification(ctx, memberID)
}

// sessionRecord loads a live (non-verified, non-expired) session. An absent
// or expired record maps to ErrSessionExpired, a verified one to
// ErrAlreadyVerified.
func (f *Flow) sessionRecord(ctx context.Context, memberID string) (storage.VerificationRecord, error) {
	rec, found, err := f.store.GetVerification(ctx, memberID)
	if err != nil {
		return storage.VerificationRecord{}, err
	}
	if !found {
		return storage.VerificationRecord{}, ErrSessionExpired
	}
	if rec.Status == storage.StatusVerified {
		return storage.VerificationRecord{}, ErrAlreadyVerified
	}
	if f.expired(rec) {
		if err := f.store.DeleteVerification(ctx, memberID); err != nil {
			return storage.VerificationRecord{}, err
		}
		return storage.VerificationRecord{}, ErrSessionExpired
	}
	return rec, nil
}

func (f *Flow) expired(rec storage.VerificationRecord) bool {
	if f.sessionTTL <= 0 {
		return false
	}
	return f.clock.Now().Sub(rec.UpdatedAt) > f.sessionTTL
}

func (f *Flow) isVerified(ctx context.Context, memberID string) (bool, error) {
	rec, found, err := f.store.GetVerification(ctx, memberID)
	if err != nil {
		return false, err
	}
	return found && rec.Status == storage.StatusVerified, nil
}

func (f *Flow) checkBanLedger(ctx context.Context, robloxID int64) error {
	ban, banned, err := f.bans.IsRobloxBanned(ctx, robloxID)
	if err != nil {
		return err
	}
	if banned {
		f.logger.Warn("banned identity blocked from verification",
			zap.Int64("roblox_id", robloxID),
			zap.String("banned_member_id", ban.MemberID))
		return ErrBannedIdentity
	}
	return nil
}

func (f *Flow) grantRoles(ctx context.Context, memberID string) {
	if f.granter == nil {
		return
	}
	for _, roleID := range f.verifiedRoles {
		if err := f.granter.GrantRole(ctx, memberID, roleID); err != nil {
			f.logger.Warn("role grant failed",
				zap.String("member_id", memberID),
				zap.String("role_id", roleID),
				zap.Error(err))
		}
	}
}

func mapResolverError(err error) error {
	switch {
	case errors.Is(err, roblox.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, roblox.ErrUnavailable):
		return ErrResolverUnavailable
	default:
		return err
	}
}
