package statedb

import (
	"context"
	"fmt"
	"time"
)

// Challenge statuses.
const (
	ChallengeUnused  = "unused"
	ChallengeUsed    = "used"
	ChallengeExpired = "expired"
)

// Challenge is a sign-in challenge issued to an address.
type Challenge struct {
	Challenge string    `json:"challenge"`
	Hash      string    `json:"hash"`
	Status    string    `json:"status"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UsedAt    time.Time `json:"used_at,omitempty"`
	ExpiredAt time.Time `json:"expired_at,omitempty"`
}

// SaveChallenge saves an authentication challenge.
func (s *Store) SaveChallenge(ctx context.Context, challenge Challenge) error {
	row := SQLiteChallenge{
		Challenge: challenge.Challenge,
		Hash:      challenge.Hash,
		Status:    challenge.Status,
		Address:   challenge.Address,
	}
	row.CreatedAt = challenge.CreatedAt

	return s.withContext(ctx).Create(&row).Error
}

// GetChallenge retrieves a challenge by its hash.
func (s *Store) GetChallenge(ctx context.Context, hash string) (*Challenge, error) {
	var row SQLiteChallenge

	if err := s.withContext(ctx).Where("hash = ?", hash).
		First(&row).Error; err != nil {

		return nil, err
	}

	challenge := Challenge{
		Challenge: row.Challenge,
		Hash:      row.Hash,
		Status:    row.Status,
		Address:   row.Address,
		CreatedAt: row.CreatedAt,
	}
	if row.UsedAt != nil {
		challenge.UsedAt = *row.UsedAt
	}
	if row.ExpiredAt != nil {
		challenge.ExpiredAt = *row.ExpiredAt
	}

	return &challenge, nil
}

// MarkChallengeUsed marks a challenge as used.
func (s *Store) MarkChallengeUsed(ctx context.Context, hash string, now time.Time) error {
	result := s.withContext(ctx).Model(&SQLiteChallenge{}).
		Where("hash = ?", hash).
		Updates(map[string]interface{}{
			"status":  ChallengeUsed,
			"used_at": now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("challenge not found")
	}

	return nil
}

// ExpireChallenges marks unused challenges older than maxAge as expired.
func (s *Store) ExpireChallenges(ctx context.Context, now time.Time,
	maxAge time.Duration) (int64, error) {

	result := s.withContext(ctx).Model(&SQLiteChallenge{}).
		Where("status = ? AND created_at < ?", ChallengeUnused,
			now.Add(-maxAge)).
		Updates(map[string]interface{}{
			"status":     ChallengeExpired,
			"expired_at": now,
		})

	return result.RowsAffected, result.Error
}
