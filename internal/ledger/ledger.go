// Package ledger maintains the banned-identity set on top of the store and
// exposes the admin-facing ban/unban/lookup operations.
package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"yeoyu-guard/internal/storage"
)

var (
	// ErrNotVerified: bans source their Roblox identity from the
	// verification record, so an unverified member cannot be banned here.
	ErrNotVerified = errors.New("member has no verification record")
	// ErrNotBanned is returned by Unban for a member with no ban record.
	ErrNotBanned = errors.New("member is not banned")
)

type Ledger struct {
	store  *storage.Store
	logger *zap.Logger
}

func New(store *storage.Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.Named("ledger")}
}

// IsRobloxBanned implements the ban-gate lookup: did any member ban carry
// this Roblox account id?
func (l *Ledger) IsRobloxBanned(ctx context.Context, robloxID int64) (storage.BanRecord, bool, error) {
	return l.store.GetBanByRobloxID(ctx, robloxID)
}

func (l *Ledger) IsBanned(ctx context.Context, memberID string) (storage.BanRecord, bool, error) {
	return l.store.GetBan(ctx, memberID)
}

// Ban records the member's linked identity in the ban set. The verification
// record itself is left in place; the two entities stay independent.
func (l *Ledger) Ban(ctx context.Context, memberID, reason string) (storage.BanRecord, error) {
	rec, found, err := l.store.GetVerification(ctx, memberID)
	if err != nil {
		return storage.BanRecord{}, err
	}
	if !found {
		return storage.BanRecord{}, ErrNotVerified
	}

	ban := storage.BanRecord{
		MemberID:   memberID,
		RobloxID:   rec.RobloxID,
		RobloxName: rec.RobloxName,
		Reason:     reason,
	}
	if err := l.store.PutBan(ctx, ban); err != nil {
		return storage.BanRecord{}, err
	}
	l.logger.Info("member banned",
		zap.String("member_id", memberID),
		zap.Int64("roblox_id", rec.RobloxID),
		zap.String("reason", reason))
	return ban, nil
}

func (l *Ledger) Unban(ctx context.Context, memberID string) (storage.BanRecord, error) {
	ban, found, err := l.store.GetBan(ctx, memberID)
	if err != nil {
		return storage.BanRecord{}, err
	}
	if !found {
		return storage.BanRecord{}, ErrNotBanned
	}
	if err := l.store.DeleteBan(ctx, memberID); err != nil {
		return storage.BanRecord{}, err
	}
	l.logger.Info("member unbanned", zap.String("member_id", memberID))
	return ban, nil
}
