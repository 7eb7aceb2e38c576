package passkey

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"
)

func TestCredentialRoundTrip(t *testing.T) {
	key, err := cbor.Marshal(map[int]interface{}{1: 2, 3: AlgES256, -1: 1, -2: make([]byte, 32), -3: make([]byte, 32)})
	require.NoError(t, err)

	wc := &webauthn.Credential{
		ID:              []byte{1, 2, 3},
		PublicKey:       key,
		AttestationType: "packed",
		Transport:       []protocol.AuthenticatorTransport{protocol.USB, protocol.NFC},
		Flags:           webauthn.CredentialFlags{BackupEligible: true},
		Authenticator:   webauthn.Authenticator{SignCount: 7},
	}
	cred, err := fromWebAuthn(wc, "42", []byte("handle"))
	require.NoError(t, err)
	require.Equal(t, "AQID", cred.CredentialID)
	require.Equal(t, encodeB64([]byte("handle")), cred.UserHandle)
	require.Equal(t, AlgES256, cred.Algorithm)
	require.Equal(t, "usb,nfc", cred.Transports)

	back, err := cred.toWebAuthn()
	require.NoError(t, err)
	require.Equal(t, wc.ID, back.ID)
	require.Equal(t, wc.Transport, back.Transport)
	require.True(t, back.Flags.BackupEligible)
	require.Equal(t, uint32(7), back.Authenticator.SignCount)
}

func TestCredentialDefaultsAttestationType(t *testing.T) {
	back, err := (&Credential{CredentialID: "AQID"}).toWebAuthn()
	require.NoError(t, err)
	require.Equal(t, "none", back.AttestationType)
}

func TestCOSEAlgorithmRejectsUnsupported(t *testing.T) {
	for name, m := range map[string]map[int]interface{}{
		"eddsa":   {1: 1, 3: -8, -1: 6, -2: make([]byte, 32)},
		"missing": {1: 2, -1: 1},
	} {
		raw, err := cbor.Marshal(m)
		require.NoError(t, err, name)
		_, err = coseAlgorithm(raw)
		require.Error(t, err, name)
	}
	_, err := coseAlgorithm([]byte{0xff})
	require.Error(t, err)
}
