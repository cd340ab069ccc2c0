package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the pgx/sqlx-backed implementation of api.Store.
type PostgresStore struct {
	db *sqlx.DB
}

// Open connects to databaseURL and returns a store ready to serve traffic
// once Migrate has been run.
func Open(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, iiberrors.Configf("failed to connect to the database: %v", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies every pending goose migration embedded under
// migrations/.
func (s *PostgresStore) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return iiberrors.Configf("failed to set migration dialect: %v", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return iiberrors.Configf("failed to apply database migrations: %v", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity for /healthcheck.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// upsertImage implements the "shared and deduplicated by pull_specification"
// invariant (spec section 3 invariant 6), retrying once on a unique
// constraint conflict from a concurrent insert (spec section 5, shared
// resources).
func upsertImage(ctx context.Context, tx *sqlx.Tx, pullSpec string) (int64, error) {
	if pullSpec == "" {
		return 0, nil
	}
	id, err := insertImageOnce(ctx, tx, pullSpec)
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return 0, fmt.Errorf("inserting image %q: %w", pullSpec, err)
	}
	// Lost the race to a concurrent insert; the row now exists, fetch it.
	var existing int64
	if qerr := tx.GetContext(ctx, &existing, `SELECT id FROM image WHERE pull_specification = $1`, pullSpec); qerr != nil {
		return 0, fmt.Errorf("re-reading image %q after conflict: %w", pullSpec, qerr)
	}
	return existing, nil
}

func insertImageOnce(ctx context.Context, tx *sqlx.Tx, pullSpec string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO image (pull_specification) VALUES ($1)
		ON CONFLICT (pull_specification) DO NOTHING
		RETURNING id`, pullSpec)
	if err != nil {
		// ON CONFLICT DO NOTHING with no RETURNING row surfaces as
		// sql.ErrNoRows, which we treat the same as a unique violation:
		// someone else is inserting the same pull spec concurrently.
		return 0, err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.Code == "23505"
	}
	return err.Error() == "sql: no rows in result set"
}

func asPgError(err error, target **pgconn.PgError) bool {
	pgErr, ok := err.(*pgconn.PgError)
	if ok {
		*target = pgErr
	}
	return ok
}

func upsertUser(ctx context.Context, tx *sqlx.Tx, username string) (int64, error) {
	if username == "" {
		return 0, nil
	}
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO iib_user (username) VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id`, username)
	if err != nil {
		return 0, fmt.Errorf("upserting user %q: %w", username, err)
	}
	return id, nil
}

func nullInt64(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func logRollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		logrus.WithError(err).Debug("rollback after already-committed or already-failed transaction")
	}
}
