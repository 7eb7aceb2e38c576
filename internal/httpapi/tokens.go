package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/middleware"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "refreshToken is required")
		return
	}

	tokens, err := a.engine.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// logout accepts an optional bearer access token and an optional refresh
// token in the body.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.Logout(r.Context(), bearer(r), req.RefreshToken); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.LogoutAll(r.Context(), claims(r).UserID, bearer(r)); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.engine.ActiveSessions(r.Context(), claims(r).UserID, r.URL.Query().Get("current"))
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RevokeSession(r.Context(), claims(r).UserID, mux.Vars(r)["sessionId"]); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) passkeyLoginOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := a.engine.PasskeyLoginOptions(r.Context())
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

type passkeyLoginRequest struct {
	SessionID string                         `json:"sessionId"`
	Response  passkey.AuthenticationResponse `json:"response"`
}

func (a *API) passkeyLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req passkeyLoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "sessionId is required")
		return
	}

	tokens, err := a.engine.VerifyPasskeyLogin(r.Context(), req.SessionID, req.Response, middleware.DeviceInfo(r))
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func bearer(r *http.Request) string {
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

