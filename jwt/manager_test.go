package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    14 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "auth-service",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAccessTokenRoundTrip(t *testing.T) {
	m := newHSManager(t)

	token, err := m.CreateAccessToken("17", "6f1c9a0e-uuid", "GOOGLE", "ADMIN")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected compact JWS, got %q", token)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != "17" || claims.UserUUID != "6f1c9a0e-uuid" || claims.Channel != "GOOGLE" || claims.Role != "ADMIN" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Type != TypeAccess {
		t.Fatalf("expected ACCESS type, got %q", claims.Type)
	}
	if claims.Issuer != "auth-service" || claims.Subject != "17" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	if claims.TokenID() == "" {
		t.Fatal("expected jti")
	}
}

func TestTokenIDsAreUnique(t *testing.T) {
	m := newHSManager(t)
	a, _ := m.CreateRefreshToken("1", "u", "EMAIL", "USER")
	b, _ := m.CreateRefreshToken("1", "u", "EMAIL", "USER")

	ida, err := m.TokenID(a)
	if err != nil {
		t.Fatalf("token id: %v", err)
	}
	idb, err := m.TokenID(b)
	if err != nil {
		t.Fatalf("token id: %v", err)
	}
	if ida == idb {
		t.Fatal("expected distinct token ids")
	}
}

func TestTypeIsCheckedExplicitly(t *testing.T) {
	m := newHSManager(t)
	access, _ := m.CreateAccessToken("1", "u", "EMAIL", "USER")
	refresh, _ := m.CreateRefreshToken("1", "u", "EMAIL", "USER")

	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType for access as refresh, got %v", err)
	}
	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType for refresh as access, got %v", err)
	}
	// Signature and expiry alone do not look at the type.
	if !m.ValidateToken(refresh) {
		t.Fatal("expected refresh token to pass generic validation")
	}
}

func TestValidateTokenExpiryWindow(t *testing.T) {
	m := newHSManager(t)
	issued := time.Now()

	access, err := m.WithClock(func() time.Time { return issued }).CreateAccessToken("1", "u", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	refresh, err := m.WithClock(func() time.Time { return issued }).CreateRefreshToken("1", "u", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}

	at29 := m.WithClock(func() time.Time { return issued.Add(29 * time.Minute) })
	at31 := m.WithClock(func() time.Time { return issued.Add(31 * time.Minute) })

	if !at29.ValidateToken(access) {
		t.Fatal("expected access token valid at t+29m")
	}
	if at31.ValidateToken(access) {
		t.Fatal("expected access token invalid at t+31m")
	}
	if !at31.ValidateToken(refresh) {
		t.Fatal("expected refresh token still valid at t+31m")
	}

	remaining, err := at29.RemainingTTL(access)
	if err != nil {
		t.Fatalf("remaining ttl: %v", err)
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("unexpected remaining ttl %v", remaining)
	}
	remaining, err = at31.RemainingTTL(access)
	if err != nil {
		t.Fatalf("remaining ttl after expiry: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected clamped zero ttl, got %v", remaining)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m := newHSManager(t)
	for _, in := range []string{"", "abc", "a.b.c", "eyJhbGciOiJub25lIn0.eyJ1c2VySWQiOiIxIn0."} {
		if m.ValidateToken(in) {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestValidateTokenRejectsForeignIssuerAndKey(t *testing.T) {
	m := newHSManager(t)

	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "someone-else",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	foreign, _ := other.CreateAccessToken("1", "u", "EMAIL", "USER")
	if m.ValidateToken(foreign) {
		t.Fatal("expected issuer mismatch to be rejected")
	}
	if _, err := m.UserID(foreign); err == nil {
		t.Fatal("expected accessor to reject issuer mismatch")
	}

	wrongKey, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "auth-service",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	forged, _ := wrongKey.CreateAccessToken("1", "u", "EMAIL", "USER")
	if m.ValidateToken(forged) {
		t.Fatal("expected bad signature to be rejected")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{UserID: "1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "jti",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestEd25519KeyRotationByKid(t *testing.T) {
	pub1, priv1, _ := ed25519.GenerateKey(rand.Reader)
	pub2, _, _ := ed25519.GenerateKey(rand.Reader)

	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.CreateAccessToken("1", "u", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !m.ValidateToken(token) {
		t.Fatal("expected token signed with k1 to verify")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret},
		{AccessTTL: time.Hour, RefreshTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: testSecret},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs512", PrivateKey: testSecret},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: testSecret, Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
