package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/trybeacon/bridge/internal/errors"
	"github.com/trybeacon/bridge/internal/files"
)

// AuditEntry is one recorded file manager mutation.
type AuditEntry struct {
	ID        string
	RequestID string
	Action    string
	Path      string
	OK        bool
	Error     string
	At        time.Time
}

// RecordFileAction implements files.Auditor.
func (s *SQLiteStore) RecordFileAction(ctx context.Context, rec files.AuditRecord) error {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		RequestID: rec.RequestID,
		Action:    rec.Action,
		Path:      rec.Path,
		OK:        rec.OK,
		Error:     rec.Error,
		At:        time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO file_audit (id, request_id, action, path, ok, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.Action,
		entry.Path,
		entry.OK,
		entry.Error,
		entry.At.Format(timeLayout),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save audit entry", err)
	}
	s.logger.Debug("audit entry saved", zap.String("action", entry.Action), zap.String("path", entry.Path), zap.Bool("ok", entry.OK))
	return nil
}

// ListFileAudit returns entries newest first. limit <= 0 returns everything.
func (s *SQLiteStore) ListFileAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, request_id, action, path, ok, error, at
		FROM file_audit
		ORDER BY at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query audit entries", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.Path, &e.OK, &e.Error, &at); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan audit entry", err)
		}
		if e.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "parse audit time", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate audit entries", err)
	}
	return entries, nil
}

var _ files.Auditor = (*SQLiteStore)(nil)
