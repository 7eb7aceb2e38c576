package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	AccountActive        AccountStatus = "ACTIVE"
	AccountLocked        AccountStatus = "LOCKED"
	AccountDormant       AccountStatus = "DORMANT"
	AccountPendingDelete AccountStatus = "PENDING_DELETE"
	AccountDeleted       AccountStatus = "DELETED"
)

// Removed reports whether the account is deleted or scheduled for deletion.
func (s AccountStatus) Removed() bool {
	return s == AccountDeleted || s == AccountPendingDelete
}

// UserRef is what the core needs to know about an account to mint tokens.
type UserRef struct {
	UserID   string
	UserUUID string
	Role     string
	Status   AccountStatus
}

// UserStatusStore reads and writes account status. Unknown users return
// [ErrUserNotFound].
type UserStatusStore interface {
	UserStatus(ctx context.Context, userID string) (AccountStatus, error)
	SetUserStatus(ctx context.Context, userID string, status AccountStatus) error
}

// UserDirectory resolves a user id to the identity embedded in tokens. It is
// used for passkey logins, where only the credential owner is known.
type UserDirectory interface {
	LookupUser(ctx context.Context, userID string) (UserRef, error)
}

// DeviceInfo describes the client a session is opened from.
type DeviceInfo struct {
	DeviceType string
	Browser    string
	OS         string
	IPAddress  string
	Location   string
}

// Notifier sends fire-and-forget security notifications. Implementations
// run on the engine's background runner and must honor ctx.
type Notifier interface {
	AccountLocked(ctx context.Context, userID, reason string) error
	NewDevice(ctx context.Context, userID string, device DeviceInfo) error
}

// LogNotifier logs notifications instead of delivering them.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) AccountLocked(_ context.Context, userID, reason string) error {
	n.logger().Info("account locked notification", zap.String("user_id", userID), zap.String("reason", reason))
	return nil
}

func (n LogNotifier) NewDevice(_ context.Context, userID string, device DeviceInfo) error {
	n.logger().Info("new device notification",
		zap.String("user_id", userID),
		zap.String("device_type", device.DeviceType),
		zap.String("browser", device.Browser),
		zap.String("os", device.OS),
		zap.String("ip", device.IPAddress),
	)
	return nil
}

func (n LogNotifier) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

// TokenResponse is returned by every issuing operation.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

// SessionInfo is one entry of [Engine.ActiveSessions].
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	DeviceType   string    `json:"deviceType,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	OS           string    `json:"os,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Location     string    `json:"location,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	IsCurrent    bool      `json:"isCurrent"`
}

// LoginDecision is the outcome of [Engine.CheckLogin].
type LoginDecision struct {
	// RemainingAttempts is how many failures the email may still record.
	RemainingAttempts int
}

// AuditEvent is the structured record handed to an [AuditSink].
type AuditEvent = internalaudit.Event

// AuditSink receives audit events on a background worker.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON audit event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink writes audit events through a zap logger.
type ZapSink = internalaudit.ZapSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewZapSink returns a ZapSink over logger.
func NewZapSink(logger *zap.Logger) *ZapSink { return internalaudit.NewZapSink(logger) }
