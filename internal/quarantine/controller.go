// Package quarantine strips a suspected-abusive member of all roles, applies
// a long timeout, and keeps an in-memory snapshot so an administrator can
// restore the member exactly as they were.
package quarantine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSnapshotNotFound is returned by Release when the actor has no active
// quarantine, e.g. on a double-click of the release button.
var ErrSnapshotNotFound = errors.New("no quarantine snapshot for actor")

// Guard is the slice of the platform the controller needs. Implemented over
// the Discord session by the bot layer; faked in tests.
type Guard interface {
	IsManageable(ctx context.Context, actorID string) (bool, error)
	MemberRoles(ctx context.Context, actorID string) ([]string, error)
	StripRoles(ctx context.Context, actorID string) error
	AddRole(ctx context.Context, actorID, roleID string) error
	Timeout(ctx context.Context, actorID string, until time.Time) error
	ClearTimeout(ctx context.Context, actorID string) error
}

// Snapshot is the authorization state held immediately before quarantine.
// Snapshots are not crash-durable: a restart while someone is quarantined
// loses the ability to auto-restore their roles.
type Snapshot struct {
	ActorID string
	Roles   []string
	Reason  string
	At      time.Time
}

type Controller struct {
	mu        sync.Mutex
	guard     Guard
	duration  time.Duration
	clock     Clock
	logger    *zap.Logger
	snapshots map[string]Snapshot
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func New(guard Guard, duration time.Duration, logger *zap.Logger) *Controller {
	if duration <= 0 {
		duration = 672 * time.Hour
	}
	return &Controller{
		guard:     guard,
		duration:  duration,
		clock:     realClock{},
		logger:    logger.Named("quarantine"),
		snapshots: make(map[string]Snapshot),
	}
}

func (c *Controller) WithClock(clock Clock) {
	c.clock = clock
}

// Quarantine snapshots the actor's roles, strips them, and applies the
// timeout. Returns applied=false without error when the actor is already
// quarantined or cannot be managed; the caller should not notify in that
// case.
func (c *Controller) Quarantine(ctx context.Context, actorID, reason string) (Snapshot, bool, error) {
	c.mu.Lock()
	if existing, ok := c.snapshots[actorID]; ok {
		c.mu.Unlock()
		c.logger.Info("actor already quarantined", zap.String("actor_id", actorID))
		return existing, false, nil
	}
	c.mu.Unlock()

	manageable, err := c.guard.IsManageable(ctx, actorID)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !manageable {
		c.logger.Warn("actor not manageable, skipping quarantine",
			zap.String("actor_id", actorID), zap.String("reason", reason))
		return Snapshot{}, false, nil
	}

	roles, err := c.guard.MemberRoles(ctx, actorID)
	if err != nil {
		return Snapshot{}, false, err
	}

	snapshot := Snapshot{ActorID: actorID, Roles: roles, Reason: reason, At: c.clock.Now()}

	c.mu.Lock()
	if existing, ok := c.snapshots[actorID]; ok {
		// lost the race against a concurrent quarantine of the same actor
		c.mu.Unlock()
		return existing, false, nil
	}
	c.snapshots[actorID] = snapshot
	c.mu.Unlock()

	if err := c.guard.StripRoles(ctx, actorID); err != nil {
		c.logger.Warn("role strip failed", zap.String("actor_id", actorID), zap.Error(err))
	}
	until := snapshot.At.Add(c.duration)
	if err := c.guard.Timeout(ctx, actorID, until); err != nil {
		c.logger.Warn("timeout failed", zap.String("actor_id", actorID), zap.Error(err))
	}

	c.logger.Info("actor quarantined",
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
		zap.Int("saved_roles", len(roles)))
	return snapshot, true, nil
}

// Release restores the snapshotted roles one at a time, best-effort per
// role, lifts the timeout and discards the snapshot.
func (c *Controller) Release(ctx context.Context, actorID string) (Snapshot, error) {
	c.mu.Lock()
	snapshot, ok := c.snapshots[actorID]
	if !ok {
		c.mu.Unlock()
		return Snapshot{}, ErrSnapshotNotFound
	}
	delete(c.snapshots, actorID)
	c.mu.Unlock()

	if err := c.guard.ClearTimeout(ctx, actorID); err != nil {
		c.logger.Warn("timeout lift failed", zap.String("actor_id", actorID), zap.Error(err))
	}
	for _, roleID := range snapshot.Roles {
		if err := c.guard.AddRole(ctx, actorID, roleID); err != nil {
			c.logger.Warn("role restore failed",
				zap.String("actor_id", actorID), zap.String("role_id", roleID), zap.Error(err))
		}
	}

	c.logger.Info("actor released", zap.String("actor_id", actorID), zap.Int("restored_roles", len(snapshot.Roles)))
	return snapshot, nil
}

// IsQuarantined reports whether the actor currently has an active snapshot.
func (c *Controller) IsQuarantined(actorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snapshots[actorID]
	return ok
}
