package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/notify"
)

// CreateBatch implements api.Store.CreateBatch: all requests in the batch
// are created in one transaction and dispatched in order (spec section 4.7,
// batch endpoints). Every request belongs to a batch, even a single-request
// submission (spec section 3), so the single-request endpoints call this
// with a one-item slice rather than duplicating its persistence logic.
func (s *PostgresStore) CreateBatch(ctx context.Context, user string, annotations map[string]interface{}, items []api.BatchItem) (int64, []int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer logRollback(tx)

	userID, err := upsertUser(ctx, tx, user)
	if err != nil {
		return 0, nil, err
	}

	annJSON, err := json.Marshal(annotations)
	if err != nil {
		return 0, nil, fmt.Errorf("marshalling batch annotations: %w", err)
	}

	var batchID int64
	if err := tx.GetContext(ctx, &batchID, `
		INSERT INTO batch (annotations) VALUES ($1) RETURNING id`, annJSON); err != nil {
		return 0, nil, fmt.Errorf("inserting batch: %w", err)
	}

	var requestIDs []int64
	for _, item := range items {
		refs, arches, buildTags, typeData, err := extractCreate(item.Type, item.Payload)
		if err != nil {
			return 0, nil, err
		}
		binaryImageID, err := upsertImage(ctx, tx, refs.BinaryImage)
		if err != nil {
			return 0, nil, err
		}
		fromIndexID, err := upsertImage(ctx, tx, firstNonEmpty(refs.FromIndex, refs.SourceFromIndex))
		if err != nil {
			return 0, nil, err
		}
		typeDataJSON, err := json.Marshal(typeData)
		if err != nil {
			return 0, nil, fmt.Errorf("marshalling type_data: %w", err)
		}

		var requestID int64
		if err := tx.GetContext(ctx, &requestID, `
			INSERT INTO request (request_type, batch_id, user_id, binary_image_id, from_index_id, build_tags, type_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			string(item.Type), batchID, nullInt64(userID), nullInt64(binaryImageID), nullInt64(fromIndexID), buildTags, typeDataJSON); err != nil {
			return 0, nil, fmt.Errorf("inserting batched request: %w", err)
		}

		for _, tag := range buildTags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO request_build_tag (tag, request_id) VALUES ($1, $2)`, tag, requestID); err != nil {
				return 0, nil, fmt.Errorf("build tag %q is already in use by another live request", tag)
			}
		}
		for _, arch := range arches {
			archID, err := upsertArchitecture(ctx, tx, arch)
			if err != nil {
				return 0, nil, err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO request_architecture (request_id, architecture_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, requestID, archID); err != nil {
				return 0, nil, fmt.Errorf("linking architecture: %w", err)
			}
		}
		if err := addStateTx(ctx, tx, requestID, stateInProgress, "The request was initiated"); err != nil {
			return 0, nil, err
		}

		requestIDs = append(requestIDs, requestID)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("committing batch creation: %w", err)
	}
	return batchID, requestIDs, nil
}

// BatchRequestInfo is one request's contribution to a batch notification
// envelope (spec section 4.5's per-batch body).
type BatchRequestInfo struct {
	ID           int64
	Organization string
	Type         string
	State        string
}

// BatchSnapshot loads every request belonging to batchID plus the batch's
// annotations, giving the build driver what it needs to decide whether a
// batch transition is newly-created/terminal and to build the notification
// envelope (spec section 4.5).
func (s *PostgresStore) BatchSnapshot(ctx context.Context, batchID int64) ([]BatchRequestInfo, map[string]interface{}, error) {
	var annRaw []byte
	if err := s.db.GetContext(ctx, &annRaw, `SELECT annotations FROM batch WHERE id = $1`, batchID); err != nil {
		return nil, nil, fmt.Errorf("loading batch %d: %w", batchID, err)
	}
	var annotations map[string]interface{}
	if len(annRaw) > 0 {
		if err := json.Unmarshal(annRaw, &annotations); err != nil {
			return nil, nil, fmt.Errorf("unmarshalling batch %d annotations: %w", batchID, err)
		}
	}

	var rows []struct {
		ID          int64          `db:"id"`
		RequestType string         `db:"request_type"`
		TypeData    []byte         `db:"type_data"`
		State       sql.NullInt64  `db:"state"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT r.id, r.request_type, r.type_data, rs.state
		FROM request r LEFT JOIN request_state rs ON rs.id = r.current_state_id
		WHERE r.batch_id = $1
		ORDER BY r.id`, batchID); err != nil {
		return nil, nil, fmt.Errorf("loading requests for batch %d: %w", batchID, err)
	}

	infos := make([]BatchRequestInfo, 0, len(rows))
	for _, row := range rows {
		var typeData map[string]interface{}
		if len(row.TypeData) > 0 {
			_ = json.Unmarshal(row.TypeData, &typeData)
		}
		org, _ := typeData["organization"].(string)
		state := ""
		if row.State.Valid {
			state = stateIntToName[int(row.State.Int64)]
		}
		infos = append(infos, BatchRequestInfo{ID: row.ID, Organization: org, Type: row.RequestType, State: state})
	}
	return infos, annotations, nil
}

// BatchNotifyInfo implements api.Store.BatchNotifyInfo: the same data
// BatchSnapshot loads, reshaped into the notify package's wire types so
// pkg/api can build a batch envelope without importing pkg/store.
func (s *PostgresStore) BatchNotifyInfo(ctx context.Context, batchID int64) ([]notify.BatchRequestRef, []string, map[string]interface{}, error) {
	infos, annotations, err := s.BatchSnapshot(ctx, batchID)
	if err != nil {
		return nil, nil, nil, err
	}
	refs := make([]notify.BatchRequestRef, 0, len(infos))
	states := make([]string, 0, len(infos))
	for _, info := range infos {
		refs = append(refs, notify.BatchRequestRef{ID: info.ID, Organization: info.Organization, Type: info.Type})
		states = append(states, info.State)
	}
	return refs, states, annotations, nil
}

// BatchDerivedState computes a batch's derived state from its requests'
// individual states: in_progress if any request is in progress, else
// failed if any failed, else complete (spec section 3).
func BatchDerivedState(requestStates []string) string {
	sawFailed := false
	for _, st := range requestStates {
		if st == "in_progress" {
			return "in_progress"
		}
		if st == "failed" {
			sawFailed = true
		}
	}
	if sawFailed {
		return "failed"
	}
	return "complete"
}

// BatchIsTerminal reports whether a batch has reached a terminal derived
// state (no request left in_progress), which gates the "only emit a batch
// notification when newly created or now terminal" rule in spec section 4.5.
func BatchIsTerminal(requestStates []string) bool {
	return BatchDerivedState(requestStates) != "in_progress"
}
