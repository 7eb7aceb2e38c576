package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authcore/ipaccess"
)

func (a *API) listIPRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ipaccess.Filter{
		Type:       ipaccess.RuleType(q.Get("type")),
		IPAddress:  q.Get("ip"),
		ActiveOnly: q.Get("active") == "true",
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	rules, err := a.engine.ListIPRules(r.Context(), filter)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	if rules == nil {
		rules = []ipaccess.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) createIPRule(w http.ResponseWriter, r *http.Request) {
	var req ipaccess.RuleRequest
	if !decode(w, r, &req) {
		return
	}
	createdBy := claims(r).UserID
	req.CreatedBy = &createdBy

	rule, err := a.engine.CreateIPRule(r.Context(), req)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) deleteIPRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "ruleId")
	if !ok {
		return
	}
	if err := a.engine.DeleteIPRule(r.Context(), id); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) lockUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "Locked by administrator"
	}
	if err := a.engine.LockAccount(r.Context(), mux.Vars(r)["userId"], req.Reason); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) unlockUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.UnlockAccount(r.Context(), mux.Vars(r)["userId"]); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lockoutResponse struct {
	FailedAttempts int    `json:"failedAttempts"`
	LockReason     string `json:"lockReason,omitempty"`
}

func (a *API) lockoutStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	n, err := a.engine.FailedAttempts(r.Context(), userID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	reason, err := a.engine.LockReason(r.Context(), userID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lockoutResponse{FailedAttempts: n, LockReason: reason})
}

func (a *API) securityReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.SecurityReport())
}

func (a *API) cleanup(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.RunCleanup(r.Context())
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expiredIpRules": report.ExpiredIPRules,
		"durationMs":     report.Duration.Milliseconds(),
	})
}
