package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// PanelToken is a ledger row for an issued panel login token. Only the bcrypt
// hash of the token is stored.
type PanelToken struct {
	ID         string
	TokenHash  string
	PlayerUUID string
	PlayerName string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// SavePanelToken inserts tok.
func (s *SQLiteStore) SavePanelToken(ctx context.Context, tok PanelToken) error {
	if tok.ID == "" || tok.TokenHash == "" {
		return apperrors.New(apperrors.CodeStorageSaveFailed, "panel token needs an id and a hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO panel_tokens (id, token_hash, player_uuid, player_name, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		tok.ID,
		tok.TokenHash,
		tok.PlayerUUID,
		tok.PlayerName,
		tok.IssuedAt.UTC().Format(timeLayout),
		tok.ExpiresAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save panel token", err)
	}
	return nil
}

// ActivePanelTokens returns tokens that have not expired at now.
func (s *SQLiteStore) ActivePanelTokens(ctx context.Context, now time.Time) ([]PanelToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, token_hash, player_uuid, player_name, issued_at, expires_at
		FROM panel_tokens
		WHERE expires_at > ?
		ORDER BY issued_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query panel tokens", err)
	}
	defer rows.Close()

	var out []PanelToken
	for rows.Next() {
		tok, err := scanPanelToken(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan panel token", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate panel tokens", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPanelToken(row scanner) (PanelToken, error) {
	var (
		tok               PanelToken
		issued, expiresAt string
	)
	if err := row.Scan(&tok.ID, &tok.TokenHash, &tok.PlayerUUID, &tok.PlayerName, &issued, &expiresAt); err != nil {
		return PanelToken{}, err
	}
	var err error
	if tok.IssuedAt, err = time.Parse(timeLayout, issued); err != nil {
		return PanelToken{}, err
	}
	if tok.ExpiresAt, err = time.Parse(timeLayout, expiresAt); err != nil {
		return PanelToken{}, err
	}
	return tok, nil
}

// DeletePanelToken removes a token, e.g. after it was redeemed.
func (s *SQLiteStore) DeletePanelToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM panel_tokens WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "delete panel token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "delete panel token", err)
	}
	if n == 0 {
		return apperrors.Wrap(apperrors.CodeStorageNotFound, "panel token not found", errors.New(id))
	}
	return nil
}

// PurgeExpiredPanelTokens deletes every token expired at now and returns how
// many were removed.
func (s *SQLiteStore) PurgeExpiredPanelTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM panel_tokens WHERE expires_at <= ?", now.UTC().Format(timeLayout))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageSaveFailed, "purge panel tokens", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("purged expired panel tokens", zap.Int64("count", n))
	}
	return n, nil
}
