package store

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestUpsertImageInsertsNewRow(t *testing.T) {
	db, mock := newMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO image`).
		WithArgs("quay.io/acme/index:v4.19").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	id, err := upsertImage(context.Background(), tx, "quay.io/acme/index:v4.19")
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertImageEmptyPullSpecIsNoop(t *testing.T) {
	db, mock := newMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	id, err := upsertImage(context.Background(), tx, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertImageRetriesOnceAfterConflict(t *testing.T) {
	db, mock := newMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO image`).
		WithArgs("quay.io/acme/index:v4.19").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM image WHERE pull_specification`).
		WithArgs("quay.io/acme/index:v4.19").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	id, err := upsertImage(context.Background(), tx, "quay.io/acme/index:v4.19")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
