package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/state"
	"github.com/namelens/domaincheck/internal/core/tld"
	apperrors "github.com/namelens/domaincheck/internal/errors"
)

// DomainChecker runs the availability pipeline for one domain.
type DomainChecker interface {
	CheckDomain(ctx context.Context, raw string) core.OrchestratorResult
}

// DomainValidator canonicalizes raw input.
type DomainValidator interface {
	Validate(raw string) core.ValidationResult
}

// StateReader exposes persisted domain state.
type StateReader interface {
	Get(ctx context.Context, domain string) (*core.DomainState, error)
}

// TLDLister lists registry entries.
type TLDLister interface {
	Entries(only ...string) []tld.Entry
}

// API serves the versioned check endpoints.
type API struct {
	Checker   DomainChecker
	Validator DomainValidator
	State     StateReader
	TLDs      TLDLister
	// Allowed restricts the listed TLDs; empty lists every entry.
	Allowed []string
}

// TLDResponse lists the TLDs the service accepts.
type TLDResponse struct {
	TLDs []tld.Entry `json:"tlds"`
}

// CheckHandler handles GET /v1/check/{domain}.
func (a *API) CheckHandler(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "domain")
	if a == nil || a.Checker == nil {
		respondWithError(w, r, errors.New("domain checker is not configured"))
		return
	}

	if a.Validator != nil {
		validation := a.Validator.Validate(raw)
		if !validation.Valid {
			respondWithError(w, r, apperrors.NewDomainInvalidError(raw, validation.Error))
			return
		}
	}

	result := a.Checker.CheckDomain(r.Context(), raw)
	writeJSON(w, http.StatusOK, result)
}

// StateHandler handles GET /v1/state/{domain}.
func (a *API) StateHandler(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "domain")
	if a == nil || a.State == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("state store is not configured"))
		return
	}

	domain := strings.ToLower(strings.TrimSpace(raw))
	if a.Validator != nil {
		validation := a.Validator.Validate(raw)
		if !validation.Valid {
			respondWithError(w, r, apperrors.NewDomainInvalidError(raw, validation.Error))
			return
		}
		domain = validation.Domain
	}

	st, err := a.State.Get(r.Context(), domain)
	switch {
	case errors.Is(err, state.ErrTampered):
		respondWithError(w, r, apperrors.NewStateTamperedError("stored state failed integrity verification"))
		return
	case err != nil:
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to read domain state"))
		return
	case st == nil:
		respondWithError(w, r, apperrors.NewNotFoundError("no state recorded for "+domain))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// TLDsHandler handles GET /v1/tlds.
func (a *API) TLDsHandler(w http.ResponseWriter, r *http.Request) {
	if a == nil || a.TLDs == nil {
		writeJSON(w, http.StatusOK, TLDResponse{TLDs: []tld.Entry{}})
		return
	}
	writeJSON(w, http.StatusOK, TLDResponse{TLDs: a.TLDs.Entries(a.Allowed...)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
