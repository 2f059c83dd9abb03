package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/service"
	"github.com/procurehub/approvald/internal/store"
)

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "APPROVAL_BAD_REQUEST", "invalid order id")
		return
	}
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "APPROVAL_NOT_FOUND", "order not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "APPROVAL_INTERNAL", err.Error())
		return
	}
	next, err := s.resolver.NextApprovers(r.Context(), order)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "APPROVAL_INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order":         order,
		"nextApprovers": next,
	})
}

func (s *Server) handleMintTokens(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "APPROVAL_BAD_REQUEST", "invalid order id")
		return
	}

	tokens, err := s.minter.MintDecisionTokens(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "APPROVAL_NOT_FOUND", "order not found")
		case errors.Is(err, service.ErrOrderTerminal):
			respondError(w, http.StatusConflict, "APPROVAL_CONFLICT", "order is already decided")
		case errors.Is(err, service.ErrNoApprover):
			respondError(w, http.StatusConflict, "APPROVAL_NO_APPROVER", "no approver available for the next tier")
		default:
			respondError(w, http.StatusInternalServerError, "APPROVAL_INTERNAL", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, tokens)
}

type mintBulkRequest struct {
	ApproverID int64              `json:"approverId"`
	Action     string             `json:"action"`
	OrderIDs   models.OrderIDList `json:"orderIds"`
}

func (s *Server) handleMintBulkToken(w http.ResponseWriter, r *http.Request) {
	var req mintBulkRequest
	if err := decodeJSON(w, r, &req, 64*1024); err != nil {
		respondError(w, http.StatusBadRequest, "APPROVAL_BAD_REQUEST", err.Error())
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		respondError(w, http.StatusBadRequest, "APPROVAL_BAD_REQUEST", err.Error())
		return
	}
	if err := req.OrderIDs.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "APPROVAL_BAD_REQUEST", err.Error())
		return
	}

	token, err := s.minter.MintBulkToken(r.Context(), req.ApproverID, action, req.OrderIDs)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "APPROVAL_NOT_FOUND", err.Error())
		case errors.Is(err, service.ErrOrderTerminal):
			respondError(w, http.StatusConflict, "APPROVAL_CONFLICT", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "APPROVAL_INTERNAL", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) error {
	if limit <= 0 {
		limit = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}
