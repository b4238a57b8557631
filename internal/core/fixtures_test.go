package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"movt.app/backend/internal/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLStore(store.Options{Driver: store.DriverSQLite, DSN: filepath.Join(t.TempDir(), "core.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *store.SQLStore, email, name string) int64 {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, name, "hash")
	require.NoError(t, err)
	return u.ID
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, kind, typed.Kind, err.Error())
	return typed
}
