package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMapping returns the identity mapping for a local user, or nil.
func (s *SQLStore) GetMapping(ctx context.Context, localUserID int64) (*IdentityMapping, error) {
	var m IdentityMapping
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT local_user_id, external_uuid, degraded, created_at FROM identity_mappings WHERE local_user_id = ?"), localUserID).
		Scan(&m.LocalUserID, &m.ExternalUUID, &m.Degraded, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity mapping: %w", err)
	}
	return &m, nil
}

// GetLocalIDByExternal returns the local user id mapped to externalUUID, or 0.
func (s *SQLStore) GetLocalIDByExternal(ctx context.Context, externalUUID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT local_user_id FROM identity_mappings WHERE external_uuid = ?"), externalUUID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to resolve external identity: %w", err)
	}
	return id, nil
}

// InsertMapping persists a mapping. If either side is already mapped the
// result wraps ErrConflict and the caller should re-read.
func (s *SQLStore) InsertMapping(ctx context.Context, localUserID int64, externalUUID string, degraded bool) (*IdentityMapping, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind("INSERT INTO identity_mappings (local_user_id, external_uuid, degraded, created_at) VALUES (?, ?, ?, ?)"),
		localUserID, externalUUID, degraded, now)
	if err != nil {
		return nil, wrap("failed to insert identity mapping", err)
	}
	return &IdentityMapping{LocalUserID: localUserID, ExternalUUID: externalUUID, Degraded: degraded, CreatedAt: now}, nil
}
