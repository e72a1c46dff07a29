package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockGuard(t *testing.T) (*Guard, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, WithSleep(noSleep)), mock
}

func TestGuardBindsUniformArgsNatively(t *testing.T) {
	g, mock := newMockGuard(t)

	mock.ExpectExec("UPDATE item SET title = ? WHERE title = ?").
		WithArgs("new", "old").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := g.Execute(context.Background(), "UPDATE item SET title = ? WHERE title = ?", "new", "old")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardInlinesMixedArgs(t *testing.T) {
	g, mock := newMockGuard(t)

	mock.ExpectExec("UPDATE item SET title = 'it''s' WHERE id = 4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := g.Execute(context.Background(), "UPDATE item SET title = ? WHERE id = ?", "it's", 4)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardRetriesQueryThenReadsFreshRows(t *testing.T) {
	g, mock := newMockGuard(t)
	locked := errors.New("database is locked")

	mock.ExpectQuery("SELECT id FROM item").WillReturnError(locked)
	mock.ExpectQuery("SELECT id FROM item").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).RowError(0, locked))
	mock.ExpectQuery("SELECT id FROM item").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	ids, err := QueryRows(context.Background(), g, func(r RowScanner) (int64, error) {
		var id int64
		return id, r.Scan(&id)
	}, "SELECT id FROM item")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
