package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// imageRefs is every image-valued field a request type may populate at
// creation time; zero values are left unresolved.
type imageRefs struct {
	BinaryImage     string
	FromIndex       string
	SourceFromIndex string
	TargetIndex     string
	FromBundleImage string
	Bundles         []string
	FBCFragments    []string
}

// extractCreate splits a typed per-type request struct (from pkg/api) into
// the image references the common row needs, the arches it was submitted
// with, the build tags it claims, and the JSON-serialisable discriminant
// fields stored in type_data.
func extractCreate(reqType api.RequestType, payload interface{}) (imageRefs, []string, []string, map[string]interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return imageRefs{}, nil, nil, nil, fmt.Errorf("marshalling %s payload: %w", reqType, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return imageRefs{}, nil, nil, nil, fmt.Errorf("unmarshalling %s payload: %w", reqType, err)
	}
	// Fields duplicated onto the common row are dropped from type_data so
	// a single source of truth exists for them (the relational columns).
	for _, common := range []string{
		"id", "request_type", "batch", "user", "state", "state_reason",
		"updated", "state_history", "logs", "arches", "binary_image",
		"binary_image_resolved", "index_image", "index_image_resolved",
		"internal_index_image_copy", "internal_index_image_copy_resolved",
		"build_tags",
	} {
		delete(m, common)
	}

	var refs imageRefs
	var arches, buildTags []string

	switch v := payload.(type) {
	case *api.AddRequest:
		refs = imageRefs{BinaryImage: v.BinaryImage, FromIndex: v.FromIndex, Bundles: v.Bundles}
		arches, buildTags = v.Arches, v.BuildTags
	case *api.RMRequest:
		refs = imageRefs{BinaryImage: v.BinaryImage, FromIndex: v.FromIndex}
		arches, buildTags = v.Arches, v.BuildTags
	case *api.RegenerateBundleRequest:
		refs = imageRefs{FromBundleImage: v.FromBundleImage}
	case *api.MergeIndexImageRequest:
		refs = imageRefs{BinaryImage: v.BinaryImage, SourceFromIndex: v.SourceFromIndex, TargetIndex: v.TargetIndex}
		arches, buildTags = v.Arches, v.BuildTags
	case *api.CreateEmptyIndexRequest:
		refs = imageRefs{BinaryImage: v.BinaryImage, FromIndex: v.FromIndex}
	case *api.FBCOperationsRequest:
		refs = imageRefs{BinaryImage: v.BinaryImage, FromIndex: v.FromIndex, FBCFragments: v.FBCFragments}
		arches, buildTags = v.Arches, v.BuildTags
	case *api.AddDeprecationsRequest:
		refs = imageRefs{BinaryImage: v.BinaryImage, FromIndex: v.FromIndex}
	case *api.RecursiveRelatedBundlesRequest:
		refs = imageRefs{FromBundleImage: v.FromBundleImage}
	default:
		return imageRefs{}, nil, nil, nil, fmt.Errorf("unsupported request payload type %T", payload)
	}

	return refs, arches, buildTags, m, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func upsertArchitecture(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO architecture (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name)
	if err != nil {
		return 0, fmt.Errorf("upserting architecture %q: %w", name, err)
	}
	return id, nil
}

// addStateTx applies the add_state invariants from spec section 4.6:
// reject unknown states, reject transitions away from a terminal state to
// a different state, and allow same-state reason updates.
func addStateTx(ctx context.Context, tx *sqlx.Tx, requestID int64, state int, reason string) error {
	name, ok := stateIntToName[state]
	if !ok {
		return iiberrors.Validationf("unknown state %d", state)
	}

	var current requestStateRow
	err := tx.GetContext(ctx, &current, `
		SELECT rs.id, rs.request_id, rs.state, rs.state_reason, rs.updated, rs.seq
		FROM request r JOIN request_state rs ON rs.id = r.current_state_id
		WHERE r.id = $1`, requestID)
	if err == nil {
		currentName := stateIntToName[current.State]
		if (currentName == "complete" || currentName == "failed") && currentName != name {
			return iiberrors.Validationf("A %s request cannot change states", currentName)
		}
	}

	var newID int64
	if err := tx.GetContext(ctx, &newID, `
		INSERT INTO request_state (request_id, state, state_reason, updated)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, requestID, state, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("inserting request_state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE request SET current_state_id = $1 WHERE id = $2`, newID, requestID); err != nil {
		return fmt.Errorf("updating current_state_id: %w", err)
	}
	return nil
}

// AddState is the exported, single-transaction form of addStateTx used by
// the dispatcher and build driver to record phase transitions.
func (s *PostgresStore) AddState(ctx context.Context, requestID int64, stateName, reason string) error {
	stateInt, ok := stateNameToInt[stateName]
	if !ok {
		return iiberrors.Validationf("The state %q is invalid. It must be one of: complete, failed, in_progress.", stateName)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer logRollback(tx)
	if err := addStateTx(ctx, tx, requestID, stateInt, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// RequestMeta implements logs.MetadataProvider: the request's last-updated
// time and whether its current state is terminal, without loading the
// full public JSON.
func (s *PostgresStore) RequestMeta(ctx context.Context, requestID int64) (time.Time, bool, bool, error) {
	var row struct {
		State   int       `db:"state"`
		Updated time.Time `db:"updated"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT rs.state, rs.updated
		FROM request r JOIN request_state rs ON rs.id = r.current_state_id
		WHERE r.id = $1`, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, false, nil
		}
		return time.Time{}, false, false, fmt.Errorf("loading request metadata for %d: %w", requestID, err)
	}
	name := stateIntToName[row.State]
	terminal := name == "complete" || name == "failed"
	return row.Updated, terminal, true, nil
}

// GetRequest implements api.Store.GetRequest.
func (s *PostgresStore) GetRequest(ctx context.Context, id int64, verbose bool) (map[string]interface{}, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM request WHERE id = $1`, id)
	if err != nil {
		return nil, iiberrors.NotFoundf("The requested resource was not found")
	}
	return s.toPublicJSON(ctx, row, verbose)
}

// ListRequests implements api.Store.ListRequests.
func (s *PostgresStore) ListRequests(ctx context.Context, filter api.ListFilter, verbose bool) ([]map[string]interface{}, int, error) {
	where := "1=1"
	args := []interface{}{}
	argN := 1

	if filter.State != "" {
		stateInt := stateNameToInt[filter.State]
		where += fmt.Sprintf(" AND r.current_state_id IN (SELECT id FROM request_state WHERE state = $%d)", argN)
		args = append(args, stateInt)
		argN++
	}
	if filter.Batch > 0 {
		where += fmt.Sprintf(" AND r.batch_id = $%d", argN)
		args = append(args, filter.Batch)
		argN++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) FROM request r WHERE %s", where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("counting requests: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	listQuery := fmt.Sprintf(`SELECT r.* FROM request r WHERE %s ORDER BY r.id DESC LIMIT $%d OFFSET $%d`, where, argN, argN+1)
	args = append(args, perPage, offset)

	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("listing requests: %w", err)
	}

	items := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		item, err := s.toPublicJSON(ctx, row, verbose)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, nil
}

// UpdateRequest implements api.Store.UpdateRequest (the worker-only PATCH
// from spec section 6).
func (s *PostgresStore) UpdateRequest(ctx context.Context, id int64, patch map[string]interface{}) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer logRollback(tx)

	if state, ok := patch["state"].(string); ok {
		reason, _ := patch["state_reason"].(string)
		if err := addStateTx(ctx, tx, id, stateNameToInt[state], reason); err != nil {
			return err
		}
	}

	for _, field := range []struct {
		key    string
		column string
	}{
		{"binary_image_resolved", "binary_image_resolved_id"},
		{"from_index_resolved", "from_index_resolved_id"},
		{"index_image", "index_image_id"},
		{"index_image_resolved", "index_image_resolved_id"},
		{"internal_index_image_copy", "internal_index_image_copy_id"},
		{"internal_index_image_copy_resolved", "internal_index_image_copy_resolved_id"},
	} {
		raw, ok := patch[field.key]
		if !ok {
			continue
		}
		pullSpec, _ := raw.(string)
		imgID, err := upsertImage(ctx, tx, pullSpec)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(`UPDATE request SET %s = $1 WHERE id = $2`, field.column)
		if _, err := tx.ExecContext(ctx, query, nullInt64(imgID), id); err != nil {
			return fmt.Errorf("updating %s: %w", field.column, err)
		}
	}

	if raw, ok := patch["arches"]; ok {
		arches, _ := raw.([]interface{})
		for _, a := range arches {
			name, _ := a.(string)
			if name == "" {
				continue
			}
			archID, err := upsertArchitecture(ctx, tx, name)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO request_architecture (request_id, architecture_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, archID); err != nil {
				return fmt.Errorf("linking architecture: %w", err)
			}
		}
	}

	if raw, ok := patch["bundle_mapping"]; ok {
		var currentData []byte
		if err := tx.GetContext(ctx, &currentData, `SELECT type_data FROM request WHERE id = $1`, id); err != nil {
			return fmt.Errorf("reading type_data: %w", err)
		}
		var typeData map[string]interface{}
		if err := json.Unmarshal(currentData, &typeData); err != nil {
			return fmt.Errorf("unmarshalling type_data: %w", err)
		}
		typeData["bundle_mapping"] = raw
		merged, err := json.Marshal(typeData)
		if err != nil {
			return fmt.Errorf("marshalling type_data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE request SET type_data = $1 WHERE id = $2`, merged, id); err != nil {
			return fmt.Errorf("updating type_data: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) toPublicJSON(ctx context.Context, row requestRow, verbose bool) (map[string]interface{}, error) {
	var typeData map[string]interface{}
	if len(row.TypeData) > 0 {
		if err := json.Unmarshal(row.TypeData, &typeData); err != nil {
			return nil, fmt.Errorf("unmarshalling type_data for request %d: %w", row.ID, err)
		}
	} else {
		typeData = map[string]interface{}{}
	}

	result := map[string]interface{}{
		"id":           row.ID,
		"request_type": row.RequestType,
		"build_tags":   row.BuildTags,
	}
	for k, v := range typeData {
		result[k] = v
	}

	if row.UserID.Valid {
		var username string
		if err := s.db.GetContext(ctx, &username, `SELECT username FROM iib_user WHERE id = $1`, row.UserID.Int64); err == nil {
			result["user"] = username
		}
	}
	if row.BatchID.Valid {
		result["batch"] = row.BatchID.Int64
	}

	if err := s.attachImageRef(ctx, row.BinaryImageID, "binary_image", result); err != nil {
		return nil, err
	}
	if err := s.attachImageRef(ctx, row.BinaryImageResolvedID, "binary_image_resolved", result); err != nil {
		return nil, err
	}
	if err := s.attachImageRef(ctx, row.FromIndexID, "from_index", result); err != nil {
		return nil, err
	}
	if err := s.attachImageRef(ctx, row.FromIndexResolvedID, "from_index_resolved", result); err != nil {
		return nil, err
	}
	if err := s.attachImageRef(ctx, row.IndexImageID, "index_image", result); err != nil {
		return nil, err
	}
	if err := s.attachImageRef(ctx, row.InternalIndexImageCopyID, "internal_index_image_copy", result); err != nil {
		return nil, err
	}
	if err := s.attachImageRef(ctx, row.InternalIndexImageCopyResolvedID, "internal_index_image_copy_resolved", result); err != nil {
		return nil, err
	}
	if row.LegacyFBCFragmentID.Valid {
		if err := s.attachImageRef(ctx, row.LegacyFBCFragmentID, "legacy_fbc_fragment", result); err != nil {
			return nil, err
		}
	}

	var arches []string
	if err := s.db.SelectContext(ctx, &arches, `
		SELECT a.name FROM architecture a
		JOIN request_architecture ra ON ra.architecture_id = a.id
		WHERE ra.request_id = $1 ORDER BY a.name`, row.ID); err != nil {
		return nil, fmt.Errorf("loading architectures for request %d: %w", row.ID, err)
	}
	result["arches"] = arches

	var states []requestStateRow
	if err := s.db.SelectContext(ctx, &states, `
		SELECT * FROM request_state WHERE request_id = $1 ORDER BY updated, seq`, row.ID); err != nil {
		return nil, fmt.Errorf("loading state history for request %d: %w", row.ID, err)
	}
	if len(states) > 0 {
		latest := states[len(states)-1]
		result["state"] = stateIntToName[latest.State]
		result["state_reason"] = latest.StateReason
		result["updated"] = latest.Updated
		if verbose {
			history := make([]api.StateHistoryEntry, 0, len(states))
			for _, st := range states {
				history = append(history, api.StateHistoryEntry{
					State:       api.RequestState(stateIntToName[st.State]),
					StateReason: st.StateReason,
					Updated:     st.Updated,
				})
			}
			result["state_history"] = history
		}
	}

	return result, nil
}

func (s *PostgresStore) attachImageRef(ctx context.Context, id sql.NullInt64, key string, result map[string]interface{}) error {
	if !id.Valid {
		return nil
	}
	var pullSpec string
	if err := s.db.GetContext(ctx, &pullSpec, `SELECT pull_specification FROM image WHERE id = $1`, id.Int64); err != nil {
		return fmt.Errorf("loading image %d for %s: %w", id.Int64, key, err)
	}
	result[key] = pullSpec
	return nil
}
