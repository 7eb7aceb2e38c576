// Package passkeytest provides a software WebAuthn authenticator and an
// in-memory credential store for tests that drive passkey ceremonies.
package passkeytest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/MrEthical07/authcore/passkey"
)

// Authenticator data flags.
const (
	FlagUserPresent    byte = 0x01
	FlagBackupEligible byte = 0x08
	FlagAttestedData   byte = 0x40
)

// Authenticator is a software authenticator holding one credential. Fields
// may be changed between calls to simulate misbehaving or cloned devices.
type Authenticator struct {
	t   testing.TB
	ec  *ecdsa.PrivateKey
	rsa *rsa.PrivateKey

	CredentialID []byte
	RPID         string
	Origin       string
	// Count is the signature counter. Assert increments it before signing.
	Count uint32
	// Flags are added to every authenticator data block.
	Flags byte
	// UserHandle is returned with assertions. Attest records the handle of
	// the registration options when it is empty.
	UserHandle []byte
}

// NewES256 returns an authenticator with a P-256 key.
func NewES256(t testing.TB, rpID, origin string) *Authenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ec key: %v", err)
	}
	return &Authenticator{t: t, ec: key, CredentialID: randomBytes(t, 16), RPID: rpID, Origin: origin}
}

// NewRS256 returns an authenticator with a 2048-bit RSA key.
func NewRS256(t testing.TB, rpID, origin string) *Authenticator {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &Authenticator{t: t, rsa: key, CredentialID: randomBytes(t, 16), RPID: rpID, Origin: origin}
}

func randomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

// Alg is the COSE algorithm of the credential key.
func (a *Authenticator) Alg() int64 {
	if a.rsa != nil {
		return passkey.AlgRS256
	}
	return passkey.AlgES256
}

// COSEKey encodes the credential public key.
func (a *Authenticator) COSEKey() []byte {
	var m map[int]interface{}
	if a.rsa != nil {
		m = map[int]interface{}{
			1:  3,
			3:  passkey.AlgRS256,
			-1: a.rsa.PublicKey.N.Bytes(),
			-2: big.NewInt(int64(a.rsa.PublicKey.E)).Bytes(),
		}
	} else {
		m = map[int]interface{}{
			1:  2,
			3:  passkey.AlgES256,
			-1: 1,
			-2: a.ec.PublicKey.X.FillBytes(make([]byte, 32)),
			-3: a.ec.PublicKey.Y.FillBytes(make([]byte, 32)),
		}
	}
	out, err := cbor.Marshal(m)
	if err != nil {
		a.t.Fatalf("marshal cose key: %v", err)
	}
	return out
}

// AuthData builds an authenticator data block, with the attested
// credential appended when attested is set.
func (a *Authenticator) AuthData(flags byte, attested bool) []byte {
	h := sha256.Sum256([]byte(a.RPID))
	buf := append([]byte{}, h[:]...)
	buf = append(buf, flags|a.Flags)
	buf = binary.BigEndian.AppendUint32(buf, a.Count)
	if attested {
		buf = append(buf, make([]byte, 16)...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.CredentialID)))
		buf = append(buf, a.CredentialID...)
		buf = append(buf, a.COSEKey()...)
	}
	return buf
}

func (a *Authenticator) clientData(typ protocol.CeremonyType, challenge string) []byte {
	raw, err := json.Marshal(map[string]string{"type": string(typ), "challenge": challenge, "origin": a.Origin})
	if err != nil {
		a.t.Fatalf("marshal client data: %v", err)
	}
	return raw
}

func (a *Authenticator) sign(data []byte) []byte {
	digest := sha256.Sum256(data)
	if a.rsa != nil {
		sig, err := rsa.SignPKCS1v15(rand.Reader, a.rsa, crypto.SHA256, digest[:])
		if err != nil {
			a.t.Fatalf("rsa sign: %v", err)
		}
		return sig
	}
	sig, err := ecdsa.SignASN1(rand.Reader, a.ec, digest[:])
	if err != nil {
		a.t.Fatalf("ecdsa sign: %v", err)
	}
	return sig
}

// Attest answers registration options with format "none" or "packed"
// (self attestation).
func (a *Authenticator) Attest(opts *passkey.RegistrationOptions, format string) passkey.RegistrationResponse {
	if a.UserHandle == nil {
		if id, ok := opts.Response.User.ID.(protocol.URLEncodedBase64); ok {
			a.UserHandle = []byte(id)
		}
	}
	return a.AttestChallenge(opts.Response.Challenge.String(), format)
}

// AttestChallenge builds an attestation over an arbitrary challenge.
func (a *Authenticator) AttestChallenge(challenge, format string) passkey.RegistrationResponse {
	cd := a.clientData(protocol.CreateCeremony, challenge)
	ad := a.AuthData(FlagUserPresent|FlagAttestedData, true)

	stmt := map[string]interface{}{}
	if format == "packed" {
		cdHash := sha256.Sum256(cd)
		stmt = map[string]interface{}{
			"alg": a.Alg(),
			"sig": a.sign(append(append([]byte{}, ad...), cdHash[:]...)),
		}
	}
	obj, err := cbor.Marshal(map[string]interface{}{
		"fmt":      format,
		"attStmt":  stmt,
		"authData": ad,
	})
	if err != nil {
		a.t.Fatalf("marshal attestation: %v", err)
	}

	var resp passkey.RegistrationResponse
	resp.ID = base64.RawURLEncoding.EncodeToString(a.CredentialID)
	resp.Type = string(protocol.PublicKeyCredentialType)
	resp.RawID = a.CredentialID
	resp.AttestationResponse.ClientDataJSON = cd
	resp.AttestationResponse.AttestationObject = obj
	resp.AttestationResponse.Transports = []string{"internal", "hybrid"}
	return resp
}

// Assert answers login options. It increments Count first.
func (a *Authenticator) Assert(opts *passkey.AuthenticationOptions) passkey.AuthenticationResponse {
	return a.AssertChallenge(opts.Response.Challenge.String())
}

// AssertChallenge builds an assertion over an arbitrary challenge.
func (a *Authenticator) AssertChallenge(challenge string) passkey.AuthenticationResponse {
	a.Count++
	cd := a.clientData(protocol.AssertCeremony, challenge)
	ad := a.AuthData(FlagUserPresent, false)
	cdHash := sha256.Sum256(cd)

	var resp passkey.AuthenticationResponse
	resp.ID = base64.RawURLEncoding.EncodeToString(a.CredentialID)
	resp.Type = string(protocol.PublicKeyCredentialType)
	resp.RawID = a.CredentialID
	resp.AssertionResponse.ClientDataJSON = cd
	resp.AssertionResponse.AuthenticatorData = ad
	resp.AssertionResponse.Signature = a.sign(append(append([]byte{}, ad...), cdHash[:]...))
	resp.AssertionResponse.UserHandle = a.UserHandle
	return resp
}
