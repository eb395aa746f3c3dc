package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/csds-network/provenance/pkg/keyvault"
	"github.com/csds-network/provenance/pkg/ledger"
	"github.com/csds-network/provenance/pkg/provenance"
	"github.com/csds-network/provenance/pkg/reportlock"
	"github.com/csds-network/provenance/pkg/store"
)

type server struct {
	engine *provenance.Engine
	log    *slog.Logger
}

func newServer(engine *provenance.Engine, log *slog.Logger) *server {
	return &server{engine: engine, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/reports/{id}/anchor", s.handleAnchor)
	mux.HandleFunc("POST /v1/reports/{id}/share", s.handleShare)
	mux.HandleFunc("POST /v1/reports/{id}/revoke", s.handleRevoke)
	mux.HandleFunc("POST /v1/reports/{id}/accept", s.handleAccept)
	mux.HandleFunc("POST /v1/reports/{id}/broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /v1/reports/{id}/remove-from-network", s.handleRemove)
	return mux
}

type actionRequest struct {
	UserID      string `json:"user_id"`
	SourceOrgID string `json:"source_org_id,omitempty"`
	TargetOrgID string `json:"target_org_id,omitempty"`
}

func (s *server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.engine.AnchorCreate(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{
		"signature":          res.Signature.String(),
		"collection_address": res.CollectionAddress,
		"anchor_hash":        res.AnchorHash,
	})
}

func (s *server) handleShare(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Share(r.Context(), req.UserID, r.PathValue("id"), req.SourceOrgID, req.TargetOrgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"signature":   res.Signature.String(),
		"share_index": res.ShareIndex,
		"share_asset": res.ShareAssetAddress,
	})
}

func (s *server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if err := s.engine.Revoke(r.Context(), req.UserID, r.PathValue("id"), req.SourceOrgID, req.TargetOrgID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if err := s.engine.Accept(r.Context(), req.UserID, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	created, err := s.engine.BroadcastToNetwork(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int64{"links_created": created})
}

func (s *server) handleRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	removed, err := s.engine.RemoveFromNetwork(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int64{"links_removed": removed})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.log.Warn("request rejected", "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, provenance.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrDuplicateLink),
		errors.Is(err, reportlock.ErrHeld):
		return http.StatusConflict
	case errors.Is(err, provenance.ErrWalletMissing),
		errors.Is(err, provenance.ErrNotAnchored),
		errors.Is(err, provenance.ErrSelfDisclosure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, keyvault.ErrCorruptEnvelope):
		return http.StatusInternalServerError
	}
	var se *ledger.SubmissionError
	if errors.As(err, &se) {
		if _, ok := ledger.IsProgramError(se); ok {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
