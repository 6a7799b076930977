// Package httpserver exposes a server.Server over HTTP per the endpoint
// table in spec section 6, wrapping a LocalServer (or any other
// server.Server implementation) with a chi router the way
// erauner12-toolbridge-api wraps its sync services.
package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskchampion/tcgo/server"
)

const (
	headerClientID       = "X-Client-Id"
	headerParentVersion  = "X-Parent-Version-Id"
	headerVersionID      = "X-Version-Id"
	headerSnapshotReqest = "X-Snapshot-Request"

	contentTypeSegment  = "application/vnd.taskchampion.history-segment"
	contentTypeSnapshot = "application/vnd.taskchampion.snapshot"
)

// Handler wraps a server.Server as an http.Handler implementing the
// remote-server wire protocol.
type Handler struct {
	srv    server.Server
	router chi.Router
}

// New builds a Handler routing the spec's client endpoints to srv.
func New(srv server.Server) *Handler {
	h := &Handler{srv: srv}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/v1/client/get-child-version", h.getChildVersion)
	r.Post("/v1/client/add-version", h.addVersion)
	r.Post("/v1/client/add-snapshot", h.addSnapshot)
	r.Get("/v1/client/snapshot", h.getSnapshot)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) getChildVersion(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(headerClientID)
	parent := r.Header.Get(headerParentVersion)
	if clientID == "" {
		http.Error(w, "missing "+headerClientID, http.StatusBadRequest)
		return
	}

	ver, err := h.srv.GetChildVersion(clientID, server.VersionID(parent))
	switch {
	case err == nil:
		w.Header().Set(headerVersionID, ver.VersionID)
		w.Header().Set(headerParentVersion, ver.ParentVersionID)
		w.Header().Set("Content-Type", contentTypeSegment)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(ver.HistorySegment)
	case errors.Is(err, server.ErrNoSuchVersion):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, server.ErrGone):
		w.WriteHeader(http.StatusGone)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) addVersion(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(headerClientID)
	parent := r.Header.Get(headerParentVersion)
	if clientID == "" {
		http.Error(w, "missing "+headerClientID, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	versionID, urgency, err := h.srv.AddVersion(clientID, server.VersionID(parent), body)
	var epv *server.ErrExpectedParentVersion
	switch {
	case err == nil:
		w.Header().Set(headerVersionID, versionID)
		w.Header().Set(headerSnapshotReqest, "urgency="+urgency.String())
		w.WriteHeader(http.StatusOK)
	case errors.As(err, &epv):
		w.Header().Set(headerParentVersion, epv.Head)
		w.WriteHeader(http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) addSnapshot(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(headerClientID)
	versionID := r.Header.Get(headerVersionID)
	if clientID == "" || versionID == "" {
		http.Error(w, "missing "+headerClientID+" or "+headerVersionID, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.srv.AddSnapshot(clientID, server.VersionID(versionID), body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(headerClientID)
	if clientID == "" {
		http.Error(w, "missing "+headerClientID, http.StatusBadRequest)
		return
	}

	snap, err := h.srv.GetSnapshot(clientID)
	switch {
	case err == nil:
		w.Header().Set(headerVersionID, snap.VersionID)
		w.Header().Set("Content-Type", contentTypeSnapshot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(snap.Blob)
	case errors.Is(err, server.ErrNoSnapshot):
		w.WriteHeader(http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
