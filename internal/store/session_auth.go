package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pavelanni/certifier/internal/model"
)

// AuthSessionTTL is how long a login stays valid.
const AuthSessionTTL = 24 * time.Hour

// CreateAuthSession opens a login session for a user and returns its token.
func (s *Store) CreateAuthSession(ctx context.Context, userID int64) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	now := time.Now().UTC()
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(AuthSessionTTL),
	); err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession looks up a live session. Unknown and expired tokens both
// yield nil.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.q.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// RevokeUserSessions logs a user out everywhere.
func (s *Store) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM auth_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpiredAuthSessions deletes sessions that expired at or before now.
func (s *Store) PurgeExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.InTx(ctx, func(tx *Store) error {
		rows, err := tx.q.QueryContext(ctx, `SELECT id, expires_at FROM auth_sessions`)
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var id string
			var exp time.Time
			if err := rows.Scan(&id, &exp); err != nil {
				rows.Close()
				return err
			}
			if !exp.After(now) {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range stale {
			if err := tx.DeleteAuthSession(ctx, id); err != nil {
				return err
			}
		}
		purged = int64(len(stale))
		return nil
	})
	return purged, err
}
