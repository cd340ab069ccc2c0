package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
	"github.com/release-engineering/iib-sub001/pkg/notify"
)

func (s *Server) requireAuthenticated(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := principal(r)
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "This API endpoint requires authentication"})
		return "", false
	}
	return user, true
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, iiberrors.Validationf("%s is not a valid request ID", ps.ByName("id")))
		return
	}
	result, err := s.store.GetRequest(r.Context(), id, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.attachLogs(result))
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	state := q.Get("state")
	if state != "" {
		if err := ValidateStateName(state); err != nil {
			writeError(w, err)
			return
		}
	}
	verbose := q.Get("verbose") == "true"

	var batch int64
	if b := q.Get("batch"); b != "" {
		parsed, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			writeError(w, iiberrors.Validationf("batch must be an integer"))
			return
		}
		if err := ValidateBatchID(parsed); err != nil {
			writeError(w, err)
			return
		}
		batch = parsed
	}

	page := 1
	if p := q.Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	perPage := 0
	if p := q.Get("per_page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			perPage = parsed
		}
	}
	perPage = ClampPerPage(perPage, s.maxPerPage)

	filter := ListFilter{State: state, Batch: batch, Page: page, PerPage: perPage}
	items, total, err := s.store.ListRequests(r.Context(), filter, verbose)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, item := range items {
		s.attachLogs(item)
	}

	extra := map[string]string{}
	if state != "" {
		extra["state"] = state
	}
	if verbose {
		extra["verbose"] = "true"
	}
	meta := BuildPaginationMeta("/api/v1/builds", page, perPage, total, extra)
	writeJSON(w, http.StatusOK, Page{Items: items, Meta: meta})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, iiberrors.Validationf("%s is not a valid request ID", ps.ByName("id")))
		return
	}
	if s.logs == nil {
		writeError(w, iiberrors.NotFoundf("This IIB instance is not configured to store request logs"))
		return
	}
	text, expired, err := s.logs.Read(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if expired {
		writeError(w, iiberrors.Gonef("The logs for request %d no longer exist", id))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// handleGetRelatedBundles serves the resolved closure written by a
// completed recursive-related-bundles request (SPEC_FULL.md section 4
// item 3), mirroring the 404-if-unconfigured-or-missing semantics of
// GET /builds/<id>/logs.
func (s *Server) handleGetRelatedBundles(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, iiberrors.Validationf("%s is not a valid request ID", ps.ByName("id")))
		return
	}
	if s.relatedBundles == nil {
		writeError(w, iiberrors.NotFoundf("This IIB instance is not configured to store related-bundles data"))
		return
	}
	bundles, err := s.relatedBundles.Read(r.Context(), id)
	if err != nil {
		writeError(w, iiberrors.NotFoundf("No related-bundles data is available for request %d", id))
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

// createAndDispatch persists a single request as a one-item batch (spec
// section 3: every request belongs to a batch), announces its creation,
// and attempts to dispatch it. A dispatch failure transitions the request
// to failed and responds 500 with the exact message required by spec
// section 4.7 item 6, rather than the generic 500 writeError's default
// case would otherwise produce.
func (s *Server) createAndDispatch(w http.ResponseWriter, r *http.Request, reqType RequestType, payload interface{}, overwriteFromIndex bool, rawPayload map[string]interface{}) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	batchID, requestIDs, err := s.store.CreateBatch(ctx, user, nil, []BatchItem{{Type: reqType, Payload: payload}})
	if err != nil {
		writeError(w, err)
		return
	}
	id := requestIDs[0]

	result, err := s.store.GetRequest(ctx, id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	s.bus.EmitRequestTransition(ctx, s.attachLogs(result))
	s.emitBatchEnvelope(ctx, batchID, user, true)

	if err := s.dispatcher.Dispatch(ctx, reqType, id, user, overwriteFromIndex, RedactArgs(rawPayload), ExtractSecrets(rawPayload)); err != nil {
		writeError(w, s.failScheduling(ctx, id, batchID, user, err))
		return
	}

	result, err = s.store.GetRequest(ctx, id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.attachLogs(result))
}

// failScheduling marks id failed after a dispatch error, emits its failed
// request envelope plus an updated batch envelope, and returns the
// *iiberrors.SchedulingError writeError renders as the required 500 body
// (spec section 4.7 item 6 / section 8 scenario 4).
func (s *Server) failScheduling(ctx context.Context, id, batchID int64, user string, cause error) error {
	msg := fmt.Sprintf("The scheduling of the build request with ID %d failed", id)
	if err := s.store.AddState(ctx, id, "failed", msg); err != nil {
		logrus.WithError(err).WithField("request", id).Error("failed to record scheduling failure")
	} else if result, err := s.store.GetRequest(ctx, id, false); err != nil {
		logrus.WithError(err).WithField("request", id).Error("failed to reload request after scheduling failure")
	} else {
		s.bus.EmitRequestTransition(ctx, s.attachLogs(result))
	}
	s.emitBatchEnvelope(ctx, batchID, user, false)
	return iiberrors.Scheduling(msg, cause)
}

// emitBatchEnvelope loads batchID's current requests and asks the bus to
// announce it; EmitBatchTransition itself only sends when newlyCreated or
// the batch has reached a terminal state (spec section 4.5).
func (s *Server) emitBatchEnvelope(ctx context.Context, batchID int64, user string, newlyCreated bool) {
	refs, states, annotations, err := s.store.BatchNotifyInfo(ctx, batchID)
	if err != nil {
		logrus.WithError(err).WithField("batch", batchID).Error("failed to load batch snapshot for notification")
		return
	}
	s.bus.EmitBatchTransition(ctx, notify.BatchTransition{
		BatchID:      batchID,
		Annotations:  annotations,
		Requests:     refs,
		State:        batchDerivedState(states),
		User:         user,
		NewlyCreated: newlyCreated,
		Terminal:     batchIsTerminal(states),
	})
}

// attachLogs populates "logs" on a request's public JSON when a
// request-logs backend is configured (spec section 4.6: "logs.url only
// when the server is configured with a request-logs directory").
func (s *Server) attachLogs(result map[string]interface{}) map[string]interface{} {
	if result == nil || s.logs == nil || !s.logs.Configured() {
		return result
	}
	id, _ := result["id"].(int64)
	entry := map[string]interface{}{
		"url": fmt.Sprintf("/api/v1/builds/%d/logs", id),
	}
	if ttl := s.logs.TTL(); ttl > 0 {
		if updated, ok := result["updated"].(time.Time); ok {
			entry["expiration"] = updated.Add(ttl)
		}
	}
	result["logs"] = entry
	return result
}

// batchDerivedState computes a batch's derived state from its requests'
// individual states: in_progress if any request is in progress, else
// failed if any failed, else complete (spec section 3). Duplicated from
// pkg/store.BatchDerivedState rather than imported: pkg/store already
// imports pkg/api for its request/batch types, so the reverse import
// would cycle.
func batchDerivedState(states []string) string {
	sawFailed := false
	for _, st := range states {
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

// batchIsTerminal reports whether a batch has reached a terminal derived
// state (no request left in_progress).
func batchIsTerminal(states []string) bool {
	return batchDerivedState(states) != "in_progress"
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseAddRequest(payload, s.privilegesFor(user))
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeAdd, req, req.OverwriteFromIndex, payload)
}

func (s *Server) handleRM(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseRMRequest(payload, s.privilegesFor(user))
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeRM, req, req.OverwriteFromIndex, payload)
}

func (s *Server) handleRegenerateBundle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseRegenerateBundleRequest(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeRegenerateBundle, req, false, payload)
}

func (s *Server) handleMergeIndexImage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseMergeIndexImageRequest(payload, s.privilegesFor(user))
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeMergeIndexImage, req, req.OverwriteTargetIndex, payload)
}

func (s *Server) handleCreateEmptyIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseCreateEmptyIndexRequest(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeCreateEmptyIndex, req, false, payload)
}

func (s *Server) handleFBCOperations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseFBCOperationsRequest(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeFBCOperations, req, false, payload)
}

func (s *Server) handleAddDeprecations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseAddDeprecationsRequest(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeAddDeprecations, req, false, payload)
}

func (s *Server) handleRecursiveRelatedBundles(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := ParseRecursiveRelatedBundlesRequest(payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.createAndDispatch(w, r, TypeRecursiveRelatedBundles, req, false, payload)
}

type batchPayload struct {
	Annotations   map[string]interface{}  `json:"annotations"`
	BuildRequests []map[string]interface{} `json:"build_requests"`
}

func decodeBatch(r *http.Request) (*batchPayload, error) {
	payload, err := decodeJSONObject(r)
	if err != nil {
		return nil, err
	}
	raw, ok := payload["build_requests"]
	if !ok {
		return nil, iiberrors.Validationf("build_requests is required")
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, iiberrors.Validationf("build_requests must be a non-empty list")
	}
	bp := &batchPayload{}
	if ann, ok := payload["annotations"].(map[string]interface{}); ok {
		bp.Annotations = ann
	}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, iiberrors.Validationf("each entry of build_requests must be a JSON object")
		}
		bp.BuildRequests = append(bp.BuildRequests, m)
	}
	return bp, nil
}

func (s *Server) handleRegenerateBundleBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	bp, err := decodeBatch(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var items []BatchItem
	for _, payload := range bp.BuildRequests {
		req, err := ParseRegenerateBundleRequest(payload)
		if err != nil {
			writeError(w, err)
			return
		}
		items = append(items, BatchItem{Type: TypeRegenerateBundle, Payload: req})
	}
	s.dispatchBatch(w, r, user, bp, items)
}

func (s *Server) handleAddRMBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	bp, err := decodeBatch(r)
	if err != nil {
		writeError(w, err)
		return
	}
	priv := s.privilegesFor(user)
	var items []BatchItem
	for _, payload := range bp.BuildRequests {
		reqType, ok := payload["type"].(string)
		if !ok {
			writeError(w, iiberrors.Validationf("each entry of build_requests must include a type of add or rm"))
			return
		}
		delete(payload, "type")
		switch RequestType(reqType) {
		case TypeAdd:
			req, err := ParseAddRequest(payload, priv)
			if err != nil {
				writeError(w, err)
				return
			}
			items = append(items, BatchItem{Type: TypeAdd, Payload: req})
		case TypeRM:
			req, err := ParseRMRequest(payload, priv)
			if err != nil {
				writeError(w, err)
				return
			}
			items = append(items, BatchItem{Type: TypeRM, Payload: req})
		default:
			writeError(w, iiberrors.Validationf("type must be one of add, rm"))
			return
		}
	}
	s.dispatchBatch(w, r, user, bp, items)
}

// dispatchBatch persists every item as one batch, announces its creation,
// then dispatches each item. A dispatch failure marks only that item
// failed (spec section 4.7 item 6) without aborting the rest of the
// batch, since the other items were already persisted in_progress and
// leaving them stuck there forever would be worse than attempting them.
// If any item fails scheduling, the response is the 500 for the last one
// that did.
func (s *Server) dispatchBatch(w http.ResponseWriter, r *http.Request, user string, bp *batchPayload, items []BatchItem) {
	ctx := r.Context()

	batchID, requestIDs, err := s.store.CreateBatch(ctx, user, bp.Annotations, items)
	if err != nil {
		writeError(w, err)
		return
	}

	for _, id := range requestIDs {
		result, err := s.store.GetRequest(ctx, id, false)
		if err != nil {
			writeError(w, err)
			return
		}
		s.bus.EmitRequestTransition(ctx, s.attachLogs(result))
	}
	s.emitBatchEnvelope(ctx, batchID, user, true)

	var schedulingErr error
	for i, id := range requestIDs {
		overwrite := false
		if add, ok := items[i].Payload.(*AddRequest); ok {
			overwrite = add.OverwriteFromIndex
		}
		var rawPayload map[string]interface{}
		if i < len(bp.BuildRequests) {
			rawPayload = bp.BuildRequests[i]
		}
		if err := s.dispatcher.Dispatch(ctx, items[i].Type, id, user, overwrite, RedactArgs(rawPayload), ExtractSecrets(rawPayload)); err != nil {
			schedulingErr = s.failScheduling(ctx, id, batchID, user, err)
		}
	}
	if schedulingErr != nil {
		writeError(w, schedulingErr)
		return
	}

	results := make([]map[string]interface{}, 0, len(requestIDs))
	for _, id := range requestIDs {
		result, err := s.store.GetRequest(ctx, id, false)
		if err != nil {
			writeError(w, err)
			return
		}
		results = append(results, s.attachLogs(result))
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"batch": map[string]interface{}{
			"id":          batchID,
			"annotations": bp.Annotations,
		},
		"items": results,
	})
}

// workerPatchFields are the only fields a worker is permitted to mutate
// via PATCH (spec section 6's endpoint table).
var workerPatchFields = map[string]bool{
	"arches": true, "binary_image_resolved": true, "from_index_resolved": true,
	"index_image": true, "index_image_resolved": true, "bundle_mapping": true,
	"state": true, "state_reason": true, "internal_index_image_copy": true,
	"internal_index_image_copy_resolved": true,
}

func (s *Server) handlePatchBuild(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	user, ok := s.requireAuthenticated(w, r)
	if !ok {
		return
	}
	if !s.workerUsers[user] {
		writeError(w, iiberrors.Authorizationf("%s is not allowed to patch builds", user))
		return
	}
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, iiberrors.Validationf("%s is not a valid request ID", ps.ByName("id")))
		return
	}
	payload, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var unknown []string
	for k := range payload {
		if !workerPatchFields[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		writeError(w, iiberrors.Validationf("The following parameters are invalid: %v", unknown))
		return
	}
	if err := s.store.UpdateRequest(r.Context(), id, payload); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.store.GetRequest(r.Context(), id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.attachLogs(result))
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
