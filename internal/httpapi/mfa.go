package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authcore/passkey"
)

type codeRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

func (a *API) totpStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.engine.TOTPStatus(r.Context(), claims(r).UserID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) totpSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountName string `json:"accountName"`
	}
	if !decode(w, r, &req) {
		return
	}
	c := claims(r)
	if req.AccountName == "" {
		req.AccountName = c.UserID
	}

	res, err := a.engine.SetupTOTP(r.Context(), c.UserID, req.AccountName)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) totpEnable(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCode(w, r)
	if !ok {
		return
	}
	codes, err := a.engine.EnableTOTP(r.Context(), claims(r).UserID, req.Code)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (a *API) totpDisable(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCode(w, r)
	if !ok {
		return
	}
	if err := a.engine.DisableTOTP(r.Context(), claims(r).UserID, req.Code); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) totpVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCode(w, r)
	if !ok {
		return
	}
	if err := a.engine.VerifyMFA(r.Context(), claims(r).UserID, req.Code); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) totpRegenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCode(w, r)
	if !ok {
		return
	}
	codes, err := a.engine.RegenerateBackupCodes(r.Context(), claims(r).UserID, req.Code)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func decodeCode(w http.ResponseWriter, r *http.Request) (codeRequest, bool) {
	var req codeRequest
	if !decode(w, r, &req) {
		return req, false
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "code is required")
		return req, false
	}
	return req, true
}

/* -------- passkeys -------- */

func (a *API) passkeyRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}
	if !decode(w, r, &req) {
		return
	}
	c := claims(r)

	opts, err := a.engine.PasskeyRegistrationOptions(r.Context(), passkey.User{
		ID:          c.UserID,
		Handle:      c.UserUUID,
		Name:        req.Name,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (a *API) passkeyRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Response   passkey.RegistrationResponse `json:"response"`
		DeviceName string                       `json:"deviceName"`
	}
	if !decode(w, r, &req) {
		return
	}

	cred, err := a.engine.RegisterPasskey(r.Context(), claims(r).UserID, req.Response, req.DeviceName)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

func (a *API) listPasskeys(w http.ResponseWriter, r *http.Request) {
	creds, err := a.engine.ListPasskeys(r.Context(), claims(r).UserID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	if creds == nil {
		creds = []passkey.Credential{}
	}
	writeJSON(w, http.StatusOK, creds)
}

func (a *API) renamePasskey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.RenamePasskey(r.Context(), claims(r).UserID, id, req.Name); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deletePasskey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.engine.DeletePasskey(r.Context(), claims(r).UserID, id); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+name)
		return 0, false
	}
	return id, true
}
