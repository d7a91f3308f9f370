package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusChallengeIssued Status = "challenge_issued"
	StatusVerified        Status = "verified"
)

// VerificationRecord links a Discord member to a Roblox account. Challenge is
// set only while Status is challenge_issued; RobloxName only once verified.
type VerificationRecord struct {
	MemberID   string
	RobloxID   int64
	RobloxName string
	Challenge  string
	Status     Status
	UpdatedAt  time.Time
}

func (s *Store) GetVerification(ctx context.Context, memberID string) (VerificationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT member_id, roblox_id, roblox_name, challenge, status, updated_at
		FROM verifications WHERE member_id = ?
	`, memberID)

	var rec VerificationRecord
	var status string
	var updated int64
	err := row.Scan(&rec.MemberID, &rec.RobloxID, &rec.RobloxName, &rec.Challenge, &status, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerificationRecord{}, false, nil
		}
		return VerificationRecord{}, false, err
	}
	rec.Status = Status(status)
	rec.UpdatedAt = time.Unix(updated, 0)
	return rec, true, nil
}

func (s *Store) PutVerification(ctx context.Context, rec VerificationRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (member_id, roblox_id, roblox_name, challenge, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			roblox_id = excluded.roblox_id,
			roblox_name = excluded.roblox_name,
			challenge = excluded.challenge,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, rec.MemberID, rec.RobloxID, rec.RobloxName, rec.Challenge, string(rec.Status), rec.UpdatedAt.Unix())
	return err
}

func (s *Store) DeleteVerification(ctx context.Context, memberID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verifications WHERE member_id = ?`, memberID)
	return err
}

// SetChallenge moves a record into challenge_issued with a fresh token,
// replacing any prior token.
func (s *Store) SetChallenge(ctx context.Context, memberID, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verifications
		SET challenge = ?, status = ?, updated_at = ?
		WHERE member_id = ?
	`, token, string(StatusChallengeIssued), time.Now().Unix(), memberID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

// MarkVerified is the commit point of the verification flow: it flips the
// record to verified only if a challenge is still outstanding, so of two
// racing checks exactly one observes the transition.
func (s *Store) MarkVerified(ctx context.Context, memberID, robloxName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verifications
		SET status = ?, roblox_name = ?, challenge = '', updated_at = ?
		WHERE member_id = ? AND status = ?
	`, string(StatusVerified), robloxName, time.Now().Unix(), memberID, string(StatusChallengeIssued))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}
