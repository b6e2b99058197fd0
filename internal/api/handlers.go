// Package api exposes the workflow engine over HTTP to the conversational
// front end and back-office tooling.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidahmann/claimflow/internal/archive"
	"github.com/davidahmann/claimflow/internal/auth"
	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/engine"
	"github.com/davidahmann/claimflow/internal/ledger"
	"github.com/davidahmann/claimflow/internal/stage"
	"github.com/davidahmann/claimflow/pkg/types"
)

type Handler struct {
	Auth   auth.Authenticator
	Engine *engine.Engine
	Store  ledger.Store
	Log    zerolog.Logger
}

// Tool dispatches POST /v1/tools/{tool}. A lost concurrency race is retried
// once against fresh state before Conflict goes back to the caller.
func (h *Handler) Tool(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/tools/")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tool name"})
		return
	}
	tool, ok := stage.ParseTool(name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, types.ToolResponse{
			Tool:   name,
			Status: types.StatusUnknownStage,
			Error:  "unknown stage: " + name,
		})
		return
	}

	var req types.ToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	var payload claim.PartialPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload: " + err.Error()})
			return
		}
	}

	call := engine.ToolCall{Tool: tool, ClaimID: req.ClaimID, Payload: payload}
	res, err := h.Engine.Process(r.Context(), call)
	if errors.Is(err, engine.ErrConflict) {
		res, err = h.Engine.Process(r.Context(), call)
	}

	status, httpStatus := classify(err)
	resp := types.ToolResponse{
		ClaimID:       req.ClaimID,
		Tool:          name,
		Status:        status,
		Stage:         string(res.Stage),
		Detail:        res.Detail,
		MissingFields: res.MissingFields,
		Duplicates:    res.Duplicates,
		PaymentStatus: string(res.PaymentStatus),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if res.Audit.AuditID != "" {
		entry := auditEntry(res.Audit)
		resp.Audit = &entry
	}
	writeJSON(w, httpStatus, resp)
}

// Claim serves GET /v1/claims/{id}.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	claimID := strings.TrimPrefix(r.URL.Path, "/v1/claims/")
	if claimID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing claim_id"})
		return
	}

	rec, ok := h.Store.GetClaim(claimID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "claim not found"})
		return
	}
	writeJSON(w, http.StatusOK, types.ClaimResponse{
		ClaimID: rec.ClaimID,
		Stage:   rec.Stage,
		Version: rec.Version,
		Claim:   json.RawMessage(rec.BodyJSON),
	})
}

// Audit serves GET /v1/claims/{id}/audit, re-verifying the digest chain on
// the way out.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request, claimID string) {
	if _, ok := h.Store.GetClaim(claimID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "claim not found"})
		return
	}

	entries, err := h.Store.ListAuditFor(claimID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := types.AuditResponse{ClaimID: claimID, Entries: []types.AuditEntry{}, ChainValid: true}
	for _, rec := range entries {
		resp.Entries = append(resp.Entries, auditEntry(rec))
	}
	if err := ledger.VerifyAuditChain(entries); err != nil {
		resp.ChainValid = false
		resp.ChainError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Archive serves GET /v1/claims/{id}/archive as a zip bundle.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request, claimID string) {
	zipBytes, err := archive.Bundle(h.Store, claimID, time.Now().UTC().Format(time.RFC3339))
	if errors.Is(err, ledger.ErrClaimNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "claim not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+claimID+"-claimfile.zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zipBytes)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// classify maps engine errors to response status and HTTP code.
func classify(err error) (string, int) {
	var incomplete *engine.ValidationIncompleteError
	var failed *engine.HandlerFailedError
	switch {
	case err == nil:
		return types.StatusOK, http.StatusOK
	case errors.As(err, &incomplete):
		return types.StatusValidationIncomplete, http.StatusUnprocessableEntity
	case errors.As(err, &failed):
		return types.StatusHandlerFailed, http.StatusBadGateway
	case errors.Is(err, engine.ErrNotFound):
		return types.StatusNotFound, http.StatusNotFound
	case errors.Is(err, engine.ErrIllegalTransition):
		return types.StatusIllegalTransition, http.StatusConflict
	case errors.Is(err, engine.ErrPreconditionFailed):
		return types.StatusPreconditionFailed, http.StatusPreconditionFailed
	case errors.Is(err, engine.ErrConflict):
		return types.StatusConflict, http.StatusConflict
	case errors.Is(err, engine.ErrUnknownStage):
		return types.StatusUnknownStage, http.StatusBadRequest
	default:
		return "error", http.StatusInternalServerError
	}
}

func auditEntry(rec ledger.AuditRecord) types.AuditEntry {
	return types.AuditEntry{
		AuditID:     rec.AuditID,
		Seq:         rec.Seq,
		Stage:       rec.Stage,
		Result:      rec.Result,
		Detail:      rec.Detail,
		PrevDigest:  rec.PrevDigest,
		Digest:      rec.Digest,
		AttemptedAt: rec.AttemptedAt,
	}
}

func (h *Handler) ensureAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.Auth == nil {
		return true
	}
	if _, err := h.Auth.Authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
