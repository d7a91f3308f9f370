package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// BanRecord marks a linked identity as banned. It lives independently of the
// verification record; the two are correlated only by member id.
type BanRecord struct {
	MemberID   string
	RobloxID   int64
	RobloxName string
	Reason     string
	CreatedAt  time.Time
}

func (s *Store) GetBan(ctx context.Context, memberID string) (BanRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT member_id, roblox_id, roblox_name, reason, created_at
		FROM bans WHERE member_id = ?
	`, memberID)
	return scanBan(row)
}

// GetBanByRobloxID backs the ban-gate: a banned Roblox account stays banned
// no matter which Discord member tries to link it.
func (s *Store) GetBanByRobloxID(ctx context.Context, robloxID int64) (BanRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT member_id, roblox_id, roblox_name, reason, created_at
		FROM bans WHERE roblox_id = ? LIMIT 1
	`, robloxID)
	return scanBan(row)
}

func (s *Store) PutBan(ctx context.Context, rec BanRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (member_id, roblox_id, roblox_name, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			roblox_id = excluded.roblox_id,
			roblox_name = excluded.roblox_name,
			reason = excluded.reason,
			created_at = excluded.created_at
	`, rec.MemberID, rec.RobloxID, rec.RobloxName, rec.Reason, rec.CreatedAt.Unix())
	return err
}

func (s *Store) DeleteBan(ctx context.Context, memberID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE member_id = ?`, memberID)
	return err
}

func (s *Store) ListBans(ctx context.Context) ([]BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, roblox_id, roblox_name, reason, created_at
		FROM bans ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []BanRecord
	for rows.Next() {
		var rec BanRecord
		var created int64
		if err := rows.Scan(&rec.MemberID, &rec.RobloxID, &rec.RobloxName, &rec.Reason, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(created, 0)
		bans = append(bans, rec)
	}
	return bans, rows.Err()
}

func scanBan(row *sql.Row) (BanRecord, bool, error) {
	var rec BanRecord
	var created int64
	err := row.Scan(&rec.MemberID, &rec.RobloxID, &rec.RobloxName, &rec.Reason, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BanRecord{}, false, nil
		}
		return BanRecord{}, false, err
	}
	rec.CreatedAt = time.Unix(created, 0)
	return rec, true, nil
}
