package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// Server wires the Store, Dispatcher, and LogStore into the HTTP surface
// described in spec section 6.
type Server struct {
	store          Store
	dispatcher     Dispatcher
	logs           LogStore
	relatedBundles RelatedBundlesStore
	bus            Bus
	maxPerPage     int
	workerUsers    map[string]bool
	router         *httprouter.Router
}

// NewServer constructs the router and registers every route from the
// external-interfaces table. relatedBundles may be nil, meaning the
// GET /builds/<id>/related-bundles endpoint always reports 404. bus may be
// nil, meaning request/batch creation never announces (a disabled
// messaging deployment).
func NewServer(store Store, dispatcher Dispatcher, logs LogStore, relatedBundles RelatedBundlesStore, bus Bus, maxPerPage int, workerUsernames []string) *Server {
	s := &Server{
		store:          store,
		dispatcher:     dispatcher,
		logs:           logs,
		relatedBundles: relatedBundles,
		bus:            bus,
		maxPerPage:     maxPerPage,
		workerUsers:    map[string]bool{},
	}
	for _, u := range workerUsernames {
		s.workerUsers[u] = true
	}

	r := httprouter.New()
	r.GET("/api/v1/builds/:id", s.handleGetBuild)
	r.GET("/api/v1/builds", s.handleListBuilds)
	r.GET("/api/v1/builds/:id/logs", s.handleGetLogs)
	r.GET("/api/v1/builds/:id/related-bundles", s.handleGetRelatedBundles)
	r.POST("/api/v1/builds/add", s.handleAdd)
	r.POST("/api/v1/builds/rm", s.handleRM)
	r.POST("/api/v1/builds/regenerate-bundle", s.handleRegenerateBundle)
	r.POST("/api/v1/builds/regenerate-bundle-batch", s.handleRegenerateBundleBatch)
	r.POST("/api/v1/builds/add-rm-batch", s.handleAddRMBatch)
	r.POST("/api/v1/builds/merge-index-image", s.handleMergeIndexImage)
	r.POST("/api/v1/builds/create-empty-index", s.handleCreateEmptyIndex)
	r.POST("/api/v1/builds/fbc-operations", s.handleFBCOperations)
	r.POST("/api/v1/builds/add-deprecations", s.handleAddDeprecations)
	r.POST("/api/v1/builds/recursive-related-bundles", s.handleRecursiveRelatedBundles)
	r.PATCH("/api/v1/builds/:id", s.handlePatchBuild)
	r.GET("/api/v1/healthcheck", s.handleHealthcheck)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("failed to encode response body")
	}
}

// writeError translates a typed error from pkg/iiberrors into the
// {"error": "..."} shape and status code from spec section 7.
func writeError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *iiberrors.ValidationError:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case *iiberrors.AuthorizationError:
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case *iiberrors.NotFoundError:
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case *iiberrors.GoneError:
		writeJSON(w, http.StatusGone, errorBody{Error: err.Error()})
	case *iiberrors.SchedulingError:
		se := err.(*iiberrors.SchedulingError)
		logrus.WithError(err).Error("scheduling failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: se.Message})
	default:
		logrus.WithError(err).Error("unhandled error serving request")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "An internal server error occurred"})
	}
}

// principal extracts the authenticated identity injected by the
// surrounding service; absence is treated as anonymous (spec section 6).
func principal(r *http.Request) string {
	return r.Header.Get("X-IIB-Principal")
}

func (s *Server) privilegesFor(user string) UserPrivileges {
	return UserPrivileges{
		Username:          user,
		CanForceOverwrite: s.workerUsers[user],
	}
}

func decodeJSONObject(r *http.Request) (map[string]interface{}, error) {
	var payload map[string]interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&payload); err != nil {
		return nil, iiberrors.Validationf("The input data must be a JSON object")
	}
	if payload == nil {
		return nil, iiberrors.Validationf("The input data must be a JSON object")
	}
	return payload, nil
}
