package httpapi

import (
	"net/http"

	"skillflow.org/internal/auth"
)

type codeRequest struct {
	Code string `json:"code"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type phoneVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allow(w, r, classMFA) {
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	enrollment, err := a.svc.SetupMFA(r.Context(), principal.AccountID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allow(w, r, classMFA) {
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.svc.VerifyMFA(r.Context(), principal.AccountID, req.Code); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func (a *API) handleBackupGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allow(w, r, classMFA) {
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	codes, err := a.svc.GenerateBackupCodes(r.Context(), principal.AccountID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	// Shown exactly once; only bcrypt hashes survive.
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

func (a *API) handleBackupConsume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allow(w, r, classMFA) {
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.svc.ConsumeBackupCode(r.Context(), principal.AccountID, req.Code); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consumed": true})
}

func (a *API) handlePhoneCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allow(w, r, classPhone) {
		return
	}
	var req phoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.StartPhoneChallenge(r.Context(), req.Phone); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (a *API) handlePhoneVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allow(w, r, classPhone) {
		return
	}
	var req phoneVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.VerifyPhoneChallenge(r.Context(), req.Phone, req.Code); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}
