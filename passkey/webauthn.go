package passkey

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

var credentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
}

var errUnknownHandle = errors.New("credential does not belong to user handle")

// webauthnUser adapts an account and its credentials to [webauthn.User].
type webauthnUser struct {
	id          []byte
	name        string
	displayName string
	creds       []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.id }
func (u *webauthnUser) WebAuthnName() string                       { return u.name }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

// toWebAuthn rebuilds the library credential record from a stored row.
func (c *Credential) toWebAuthn() (webauthn.Credential, error) {
	id, err := decodeB64(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("credential id: %w", err)
	}
	var transports []protocol.AuthenticatorTransport
	for _, t := range splitTransports(c.Transports) {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	attType := c.AttestationType
	if attType == "" {
		attType = string(protocol.AttestationFormatNone)
	}
	return webauthn.Credential{
		ID:              id,
		PublicKey:       c.PublicKey,
		AttestationType: attType,
		Transport:       transports,
		Flags:           webauthn.CredentialFlags{UserPresent: true, BackupEligible: c.BackupEligible},
		Authenticator:   webauthn.Authenticator{SignCount: c.SignCount},
	}, nil
}

// fromWebAuthn converts a freshly verified credential into a row for userID.
func fromWebAuthn(wc *webauthn.Credential, userID string, handle []byte) (*Credential, error) {
	alg, err := coseAlgorithm(wc.PublicKey)
	if err != nil {
		return nil, err
	}
	transports := make([]string, 0, len(wc.Transport))
	for _, t := range wc.Transport {
		transports = append(transports, string(t))
	}
	return &Credential{
		UserID:          userID,
		CredentialID:    encodeB64(wc.ID),
		UserHandle:      encodeB64(handle),
		PublicKey:       wc.PublicKey,
		Algorithm:       alg,
		SignCount:       wc.Authenticator.SignCount,
		BackupEligible:  wc.Flags.BackupEligible,
		AttestationType: wc.AttestationType,
		Transports:      strings.Join(transports, ","),
	}, nil
}

// coseAlgorithm reads label 3 of a COSE_Key.
func coseAlgorithm(key []byte) (int64, error) {
	var hdr struct {
		Alg int64 `cbor:"3,keyasint"`
	}
	if err := cbor.Unmarshal(key, &hdr); err != nil {
		return 0, fmt.Errorf("cose key: %w", err)
	}
	if hdr.Alg != AlgES256 && hdr.Alg != AlgRS256 {
		return 0, fmt.Errorf("cose key: unsupported alg %d", hdr.Alg)
	}
	return hdr.Alg, nil
}

// decodeB64 accepts base64url with or without padding.
func decodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func encodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func splitTransports(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
