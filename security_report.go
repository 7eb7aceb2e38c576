package authcore

import "time"

// SecurityReport summarizes the effective security posture of an Engine.
type SecurityReport struct {
	SigningAlgorithm  string        `json:"signingAlgorithm"`
	AccessTTL         time.Duration `json:"accessTtl"`
	RefreshTTL        time.Duration `json:"refreshTtl"`
	LoginEmailLimit   int           `json:"loginEmailLimit"`
	LoginIPLimit      int           `json:"loginIpLimit"`
	LoginWindow       time.Duration `json:"loginWindow"`
	LockoutThreshold  int           `json:"lockoutThreshold"`
	LockoutWindow     time.Duration `json:"lockoutWindow"`
	IPRulesEnabled    bool          `json:"ipRulesEnabled"`
	TOTPEnabled       bool          `json:"totpEnabled"`
	BackupCodeCount   int           `json:"backupCodeCount"`
	PasskeysEnabled   bool          `json:"passkeysEnabled"`
	PasskeyRPID       string        `json:"passkeyRpId,omitempty"`
	RevokeOnLock      bool          `json:"revokeOnLock"`
	NewDeviceAlerts   bool          `json:"newDeviceAlerts"`
	AuditEnabled      bool          `json:"auditEnabled"`
	MetricsEnabled    bool          `json:"metricsEnabled"`
	RefreshReuseGuard bool          `json:"refreshReuseGuard"`
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	r := SecurityReport{
		SigningAlgorithm:  e.config.JWT.SigningMethod,
		AccessTTL:         e.config.JWT.AccessTTL,
		RefreshTTL:        e.config.JWT.RefreshTTL,
		LoginEmailLimit:   e.config.RateLimit.LoginEmailMax,
		LoginIPLimit:      e.config.RateLimit.LoginIPMax,
		LoginWindow:       e.config.RateLimit.LoginWindow,
		LockoutThreshold:  e.lockout.Threshold(),
		LockoutWindow:     e.config.Lockout.Window,
		IPRulesEnabled:    e.ipRules != nil,
		TOTPEnabled:       e.totp != nil,
		PasskeysEnabled:   e.passkeys != nil,
		RevokeOnLock:      e.config.Session.RevokeOnLock,
		NewDeviceAlerts:   e.config.Session.NotifyNewDevice,
		AuditEnabled:      e.audit != nil,
		MetricsEnabled:    e.metrics.Enabled(),
		RefreshReuseGuard: true,
	}
	if r.TOTPEnabled {
		r.BackupCodeCount = e.config.TOTP.BackupCodeCount
	}
	if r.PasskeysEnabled {
		r.PasskeyRPID = e.config.Passkey.RPID
	}
	return r
}
