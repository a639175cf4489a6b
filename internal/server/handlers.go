package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tangram/internal/blob"
	"tangram/internal/evaluator"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/terror"
)

func idParam(r *http.Request) (id.ID, error) {
	return id.Parse(chi.URLParam(r, "id"))
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	objID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := s.store.Get(r.Context(), objID)
	if err != nil {
		writeTerror(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	objID, err := idParam(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := s.store.Exists(r.Context(), objID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	objID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Put(r.Context(), objID, data); err != nil {
		writeTerror(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetTargetBuild(w http.ResponseWriter, r *http.Request) {
	targetID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buildID, ok, err := s.store.GetAssignment(r.Context(), targetID)
	if err != nil {
		writeTerror(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no build assigned to target "+targetID.String())
		return
	}
	writeJSON(w, http.StatusOK, buildIDResponse{BuildID: buildID})
}

// handlePostTargetBuild starts-or-attaches a build (spec §6). Evaluate is
// synchronous and already dedups concurrent callers (spec §4.4), so by the
// time this handler returns, the build is fully sealed one way or another:
// a failing operation still persists a Build with Result.OK == false, so a
// returned error only means the dispatch itself never got far enough to
// seal anything (e.g. Cycle, or the operation ID doesn't exist) — checked
// by whether an assignment now exists, not by the error's kind.
func (s *Server) handlePostTargetBuild(w http.ResponseWriter, r *http.Request) {
	targetID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, evalErr := s.eval.Evaluate(r.Context(), targetID)

	buildID, ok, err := s.store.GetAssignment(r.Context(), targetID)
	if err != nil {
		writeTerror(w, err)
		return
	}
	if !ok {
		if evalErr != nil {
			writeTerror(w, evalErr)
			return
		}
		writeError(w, http.StatusInternalServerError, "evaluate completed without sealing a build")
		return
	}
	writeJSON(w, http.StatusOK, buildIDResponse{BuildID: buildID})
}

type buildIDResponse struct {
	BuildID id.ID `json:"build_id"`
}

func (s *Server) getBuild(r *http.Request, w http.ResponseWriter) (object.Build, bool) {
	buildID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return object.Build{}, false
	}
	obj, err := s.store.GetObject(r.Context(), buildID)
	if err != nil {
		writeTerror(w, err)
		return object.Build{}, false
	}
	build, ok := obj.(object.Build)
	if !ok {
		writeError(w, http.StatusNotFound, "object is not a build")
		return object.Build{}, false
	}
	return build, true
}

// handleGetBuildChildren streams child build IDs one JSON value per line
// (spec §6). A child operation without a sealed build yet (still in
// flight) is skipped rather than blocking this stream.
func (s *Server) handleGetBuildChildren(w http.ResponseWriter, r *http.Request) {
	build, ok := s.getBuild(r, w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := newLineEncoder(w)
	for _, childOp := range build.Children_ {
		childBuildID, ok, err := s.store.GetAssignment(r.Context(), childOp)
		if err != nil || !ok {
			continue
		}
		if err := enc.encode(buildIDResponse{BuildID: childBuildID}); err != nil {
			return
		}
	}
}

func (s *Server) handleGetBuildLog(w http.ResponseWriter, r *http.Request) {
	build, ok := s.getBuild(r, w)
	if !ok {
		return
	}
	text, err := blob.Bytes(r.Context(), s.store, build.LogBlob)
	if err != nil {
		writeTerror(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(text)
}

func (s *Server) handleGetBuildResult(w http.ResponseWriter, r *http.Request) {
	build, ok := s.getBuild(r, w)
	if !ok {
		return
	}
	resp := resultResponse{OK: build.Result.OK}
	if build.Result.OK {
		v := valueToJSON(build.Result.Value)
		resp.Value = &v
	} else {
		v := valueToJSON(build.Result.Err)
		resp.Err = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

type resultResponse struct {
	OK    bool       `json:"ok"`
	Value *jsonValue `json:"value,omitempty"`
	Err   *jsonValue `json:"error,omitempty"`
}

// handleGetOperationState reports an operation's BuildState (spec §4.4
// "Progress"): in-flight state if it's still dispatching, else the terminal
// state derived from its sealed Build.Result.
func (s *Server) handleGetOperationState(w http.ResponseWriter, r *http.Request) {
	opID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if state, ok := s.eval.State(opID); ok {
		writeJSON(w, http.StatusOK, stateResponse{State: state.String()})
		return
	}

	buildID, ok, err := s.store.GetAssignment(r.Context(), opID)
	if err != nil {
		writeTerror(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "operation has no recorded state")
		return
	}
	obj, err := s.store.GetObject(r.Context(), buildID)
	if err != nil {
		writeTerror(w, err)
		return
	}
	build, ok := obj.(object.Build)
	if !ok {
		writeError(w, http.StatusNotFound, "object is not a build")
		return
	}
	// A sealed Build only distinguishes ok/not-ok (spec §3 Result); whether a
	// failure was a Cancelled vs. a genuine Failed is only observable while
	// still in flight, via the progress registry above.
	state := evaluator.Succeeded
	if !build.Result.OK {
		state = evaluator.Failed
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state.String()})
}

type stateResponse struct {
	State string `json:"state"`
}

func (s *Server) handlePostClean(w http.ResponseWriter, r *http.Request) {
	roots, err := s.store.AssignmentRoots(r.Context())
	if err != nil {
		writeTerror(w, err)
		return
	}
	deleted, err := s.store.Clean(r.Context(), roots)
	if err != nil {
		writeTerror(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanResponse{Deleted: deleted})
}

type cleanResponse struct {
	Deleted int `json:"deleted"`
}

// writeTerror maps the taxonomy (spec §7) onto HTTP status codes.
// MissingChildren gets the structured list of missing IDs the store uses to
// drive upload retry (spec §4.1).
func writeTerror(w http.ResponseWriter, err error) {
	var te *terror.Error
	if errors.As(err, &te) && te.Kind == terror.MissingChildren {
		writeJSON(w, http.StatusBadRequest, missingChildrenResponse{Missing: te.Missing})
		return
	}
	switch terror.Of(err) {
	case terror.NotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case terror.Invalid, terror.ChecksumMismatch:
		writeError(w, http.StatusBadRequest, err.Error())
	case terror.Cancelled:
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type missingChildrenResponse struct {
	Missing []string `json:"missing"`
}
