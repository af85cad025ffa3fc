package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/riskwatch/internal/models"
)

const lookupQuery = `SELECT user_id, child_user_id\s+FROM session_identities\s+WHERE session_key = \$1`

func newMockPostgres(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return &PostgresStorage{db: db, logger: zaptest.NewLogger(t)}, mock
}

func TestPostgresStorage_LookupFound(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(lookupQuery).
		WithArgs("tab-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "child_user_id"}).AddRow("parent-1", int64(9)))

	identity, ok, err := s.Lookup(context.Background(), "tab-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.UserIdentity{UserID: "parent-1", ChildUserID: 9}, identity)
}

func TestPostgresStorage_LookupNoRows(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(lookupQuery).
		WithArgs("tab-2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "child_user_id"}))

	identity, ok, err := s.Lookup(context.Background(), "tab-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.UserIdentity{}, identity)
}

func TestPostgresStorage_LookupQueryError(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(lookupQuery).
		WithArgs("tab-3").
		WillReturnError(errors.New("connection reset"))

	_, ok, err := s.Lookup(context.Background(), "tab-3")
	assert.ErrorContains(t, err, "connection reset")
	assert.False(t, ok)
}

func TestPostgresStorage_Close(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectClose()

	assert.NoError(t, s.Close())
}
