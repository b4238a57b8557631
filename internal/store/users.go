package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = "id, email, name, avatar_url, password_hash, session_id, created_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	var avatar, session sql.NullString
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &avatar, &user.PasswordHash, &session, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.AvatarURL = stringPtr(avatar)
	user.SessionID = stringPtr(session)
	return &user, nil
}

// CreateUser inserts a user. A duplicate email yields ErrConflict.
func (s *SQLStore) CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind("INSERT INTO users (email, name, password_hash, created_at) VALUES (?, ?, ?, ?) RETURNING id"),
		email, name, passwordHash, now).Scan(&id)
	if err != nil {
		return nil, wrap("failed to insert user", err)
	}
	return &User{ID: id, Email: email, Name: name, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE lower(email) = lower(?)"), email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetUserIDBySession resolves an opaque session token to a local user id.
// It returns 0 when no user holds the token.
func (s *SQLStore) GetUserIDBySession(ctx context.Context, token string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT id FROM users WHERE session_id = ?"), token).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to look up session: %w", err)
	}
	return id, nil
}

func (s *SQLStore) SetSessionID(ctx context.Context, userID int64, token *string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("UPDATE users SET session_id = ? WHERE id = ?"), nullableString(token), userID)
	return wrap("failed to set session", err)
}

// GetUsersByExternalUUIDs returns the users mapped to the given external
// identities, keyed by UUID. Unmapped identities are absent from the result.
func (s *SQLStore) GetUsersByExternalUUIDs(ctx context.Context, uuids []string) (map[string]*User, error) {
	out := make(map[string]*User, len(uuids))
	if len(uuids) == 0 {
		return out, nil
	}
	query := "SELECT m.external_uuid, u.id, u.email, u.name, u.avatar_url, u.password_hash, u.session_id, u.created_at " +
		"FROM identity_mappings m JOIN users u ON u.id = m.local_user_id WHERE m.external_uuid IN (" + placeholders(len(uuids)) + ")"
	args := make([]any, len(uuids))
	for i, u := range uuids {
		args[i] = u
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by identity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var external string
		var user User
		var avatar, session sql.NullString
		if err := rows.Scan(&external, &user.ID, &user.Email, &user.Name, &avatar, &user.PasswordHash, &session, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		user.AvatarURL = stringPtr(avatar)
		user.SessionID = stringPtr(session)
		out[external] = &user
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
