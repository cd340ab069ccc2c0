// Package store implements the persistence model (spec section 4.6): a
// common request row carrying per-type data in its type_data JSONB
// column, request state history, and
// the image/architecture dimension tables, behind the api.Store interface.
package store

import (
	"database/sql"
	"time"
)

// The request states: a small closed enum of state values, persisted as
// smallint in request_state.state.
const (
	stateInProgress = 1
	stateComplete   = 2
	stateFailed     = 3
)

var stateNameToInt = map[string]int{
	"in_progress": stateInProgress,
	"complete":    stateComplete,
	"failed":      stateFailed,
}

var stateIntToName = map[int]string{
	stateInProgress: "in_progress",
	stateComplete:   "complete",
	stateFailed:     "failed",
}

// requestRow is the common envelope row, scanned with sqlx's struct
// binding (db tags match the request table's columns).
type requestRow struct {
	ID                                 int64          `db:"id"`
	RequestType                        string         `db:"request_type"`
	BatchID                            sql.NullInt64  `db:"batch_id"`
	UserID                             sql.NullInt64  `db:"user_id"`
	CurrentStateID                     sql.NullInt64  `db:"current_state_id"`
	BinaryImageID                      sql.NullInt64  `db:"binary_image_id"`
	BinaryImageResolvedID              sql.NullInt64  `db:"binary_image_resolved_id"`
	FromIndexID                        sql.NullInt64  `db:"from_index_id"`
	FromIndexResolvedID                sql.NullInt64  `db:"from_index_resolved_id"`
	IndexImageID                       sql.NullInt64  `db:"index_image_id"`
	InternalIndexImageCopyID           sql.NullInt64  `db:"internal_index_image_copy_id"`
	InternalIndexImageCopyResolvedID   sql.NullInt64  `db:"internal_index_image_copy_resolved_id"`
	BuildTags                          []string       `db:"build_tags"`
	TypeData                           []byte         `db:"type_data"`
	LegacyFBCFragmentID                sql.NullInt64  `db:"legacy_fbc_fragment_id"`
}

// requestStateRow is one row of request_state, ordered by (updated, seq)
// so equal timestamps still have a deterministic total order (spec
// section 5 ordering guarantees).
type requestStateRow struct {
	ID          int64     `db:"id"`
	RequestID   int64     `db:"request_id"`
	State       int       `db:"state"`
	StateReason string    `db:"state_reason"`
	Updated     time.Time `db:"updated"`
	Seq         int64     `db:"seq"`
}

type imageRow struct {
	ID                int64  `db:"id"`
	PullSpecification string `db:"pull_specification"`
}

type userRow struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
}

type batchRow struct {
	ID          int64     `db:"id"`
	Annotations []byte    `db:"annotations"`
	CreatedAt   time.Time `db:"created_at"`
}
