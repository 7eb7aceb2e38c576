package passkey

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// COSE algorithm identifiers accepted for new credentials.
const (
	AlgES256 int64 = -7
	AlgRS256 int64 = -257
)

// Credential is a registered passkey.
type Credential struct {
	ID           int64  `db:"id" json:"id"`
	UserID       string `db:"user_id" json:"-"`
	CredentialID string `db:"credential_id" json:"credentialId"`
	// UserHandle is the base64url WebAuthn user id the credential was
	// created for. Assertions must echo it back.
	UserHandle      string     `db:"user_handle" json:"-"`
	PublicKey       []byte     `db:"public_key" json:"-"`
	Algorithm       int64      `db:"algorithm" json:"algorithm"`
	SignCount       uint32     `db:"sign_count" json:"signCount"`
	BackupEligible  bool       `db:"backup_eligible" json:"backupEligible"`
	AttestationType string     `db:"attestation_type" json:"-"`
	Transports      string     `db:"transports" json:"transports,omitempty"`
	DeviceName      string     `db:"device_name" json:"deviceName"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	LastUsedAt      *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
}

// CredentialStore persists credentials. FindByCredentialID, Rename and
// Delete return [ErrCredentialNotFound] for unknown rows; Insert returns
// [ErrCredentialExists] when the credential id is taken.
type CredentialStore interface {
	CountByUser(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	ExistsForUser(ctx context.Context, userID string) (bool, error)
	FindByCredentialID(ctx context.Context, credentialID string) (*Credential, error)
	Insert(ctx context.Context, cred *Credential) error
	// UpdateSignCount moves the counter from oldCount to newCount and sets
	// lastUsedAt. It reports false when the stored counter is no longer
	// oldCount.
	UpdateSignCount(ctx context.Context, id int64, oldCount, newCount uint32, usedAt time.Time) (bool, error)
	Rename(ctx context.Context, userID string, id int64, name string) error
	Delete(ctx context.Context, userID string, id int64) error
}

// User identifies the account registering a passkey. Handle becomes the
// WebAuthn user id and defaults to ID.
type User struct {
	ID          string
	Handle      string
	Name        string
	DisplayName string
}

// RegistrationOptions is the argument to navigator.credentials.create.
type RegistrationOptions = protocol.CredentialCreation

// AuthenticationOptions is the argument to navigator.credentials.get plus
// the ceremony session id the client must echo back.
type AuthenticationOptions struct {
	SessionID string `json:"sessionId"`
	protocol.CredentialAssertion
}

// RegistrationResponse is the PublicKeyCredential returned by create().
type RegistrationResponse = protocol.CredentialCreationResponse

// AuthenticationResponse is the PublicKeyCredential returned by get().
type AuthenticationResponse = protocol.CredentialAssertionResponse
