// Package passkey runs WebAuthn registration and authentication ceremonies
// for discoverable credentials on top of go-webauthn.
//
// Ceremony state ([webauthn.SessionData]) is kept in Redis for five minutes
// under passkey:challenge:register:{userId} and
// passkey:challenge:login:{sessionId}, and is read with GETDEL so each
// challenge is usable once. Credentials are limited to ES256 and RS256 keys
// with "none" or packed self attestation. The signature counter of every
// assertion must be strictly greater than the stored one.
package passkey

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrChallengeExpiredOrMissing means the ceremony must restart.
	ErrChallengeExpiredOrMissing = errors.New("passkey challenge expired or missing")
	// ErrSignatureVerification covers forged assertions and stale counters.
	ErrSignatureVerification = errors.New("passkey signature verification failed")
	// ErrRegistrationFailed is returned when an attestation does not verify.
	ErrRegistrationFailed = errors.New("passkey registration failed")
	// ErrLimitExceeded is returned when the user already has the maximum
	// number of passkeys.
	ErrLimitExceeded = errors.New("passkey limit exceeded")
	// ErrCredentialExists is returned for a credential id registered before.
	ErrCredentialExists = errors.New("passkey already registered")
	// ErrCredentialNotFound is returned for an unknown credential.
	ErrCredentialNotFound = errors.New("passkey not found")
	// ErrInvalidName is returned when a device name is unusable.
	ErrInvalidName = errors.New("invalid passkey name")
	// ErrStoreUnavailable wraps credential store and challenge store failures.
	ErrStoreUnavailable = errors.New("passkey store unavailable")
)

const (
	challengePrefix = "passkey:challenge:"

	defaultRPID         = "localhost"
	defaultRPName       = "Authly"
	defaultOrigin       = "http://localhost:3000"
	defaultChallengeTTL = 300 * time.Second
	defaultMaxPerUser   = 10
	defaultDeviceName   = "Passkey"
	maxDeviceNameRunes  = 64
)

// Config holds relying-party settings.
type Config struct {
	RPID         string
	RPName       string
	Origins      []string
	ChallengeTTL time.Duration
	MaxPerUser   int
}

// Service runs passkey ceremonies.
type Service struct {
	store    CredentialStore
	redis    redis.UniversalClient
	wa       *webauthn.WebAuthn
	cfg      Config
	policy   *bluemonday.Policy
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service. It fails when the relying-party settings
// are rejected by the WebAuthn configuration.
func NewService(store CredentialStore, redisClient redis.UniversalClient, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.RPID == "" {
		cfg.RPID = defaultRPID
	}
	if cfg.RPName == "" {
		cfg.RPName = defaultRPName
	}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []string{defaultOrigin}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaultChallengeTTL
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = defaultMaxPerUser
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Expiry is enforced by the Redis TTL, so the library timeouts only
	// shape the options sent to the browser.
	timeout := webauthn.TimeoutConfig{Timeout: cfg.ChallengeTTL, TimeoutUVD: cfg.ChallengeTTL}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:                  cfg.RPID,
		RPDisplayName:         cfg.RPName,
		RPOrigins:             cfg.Origins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:        protocol.ResidentKeyRequirementRequired,
			RequireResidentKey: protocol.ResidentKeyRequired(),
			UserVerification:   protocol.VerificationPreferred,
		},
		Timeouts: webauthn.TimeoutsConfig{Login: timeout, Registration: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("passkey: %w", err)
	}

	return &Service{
		store:    store,
		redis:    redisClient,
		wa:       wa,
		cfg:      cfg,
		policy:   bluemonday.StrictPolicy(),
		validate: validator.New(),
		logger:   logger.Named("passkey"),
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of s stamping lastUsedAt and createdAt with now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

func registerKey(userID string) string {
	return challengePrefix + "register:" + userID
}

func loginKey(sessionID string) string {
	return challengePrefix + "login:" + sessionID
}

// RegistrationOptions issues a registration challenge for user.
func (s *Service) RegistrationOptions(ctx context.Context, user User) (*RegistrationOptions, error) {
	existing, err := s.store.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(existing) >= s.cfg.MaxPerUser {
		return nil, ErrLimitExceeded
	}

	handle := user.Handle
	if handle == "" {
		handle = user.ID
	}
	name := user.Name
	if name == "" {
		name = "User"
	}
	display := user.DisplayName
	if display == "" {
		display = name
	}

	exclude := make([]protocol.CredentialDescriptor, 0, len(existing))
	for i := range existing {
		wc, err := existing[i].toWebAuthn()
		if err != nil {
			s.logger.Warn("skipping unreadable passkey", zap.String("user_id", user.ID), zap.Int64("passkey_id", existing[i].ID), zap.Error(err))
			continue
		}
		exclude = append(exclude, wc.Descriptor())
	}

	creation, session, err := s.wa.BeginRegistration(
		&webauthnUser{id: []byte(handle), name: name, displayName: display},
		webauthn.WithCredentialParameters(credentialParameters),
		webauthn.WithExclusions(exclude),
	)
	if err != nil {
		return nil, fmt.Errorf("passkey: begin registration: %w", err)
	}
	if err := s.putSession(ctx, registerKey(user.ID), session); err != nil {
		return nil, err
	}
	return creation, nil
}

// VerifyRegistration checks an attestation against the outstanding
// registration challenge of userID and stores the new credential.
func (s *Service) VerifyRegistration(ctx context.Context, userID string, resp RegistrationResponse, deviceName string) (*Credential, error) {
	session, err := s.consumeSession(ctx, registerKey(userID))
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count >= s.cfg.MaxPerUser {
		return nil, ErrLimitExceeded
	}

	parsed, err := resp.Parse()
	if err != nil {
		return nil, s.registrationRejected(userID, err)
	}
	if !challengeMatches(parsed.Response.CollectedClientData.Challenge, session.Challenge) {
		return nil, ErrChallengeExpiredOrMissing
	}

	owner := &webauthnUser{id: session.UserID}
	wc, err := s.wa.CreateCredential(owner, *session, parsed)
	if err != nil {
		return nil, s.registrationRejected(userID, err)
	}
	cred, err := fromWebAuthn(wc, userID, session.UserID)
	if err != nil {
		return nil, s.registrationRejected(userID, err)
	}

	if _, err := s.store.FindByCredentialID(ctx, cred.CredentialID); err == nil {
		return nil, ErrCredentialExists
	} else if !errors.Is(err, ErrCredentialNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	cred.DeviceName = s.sanitizeName(deviceName)
	cred.CreatedAt = s.now().UTC()
	if err := s.store.Insert(ctx, cred); err != nil {
		if errors.Is(err, ErrCredentialExists) {
			return nil, ErrCredentialExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info("passkey registered",
		zap.String("user_id", userID),
		zap.String("credential_id", cred.CredentialID),
		zap.Int64("alg", cred.Algorithm),
		zap.String("attestation", cred.AttestationType),
	)
	return cred, nil
}

func (s *Service) registrationRejected(userID string, err error) error {
	s.logger.Warn("passkey registration rejected", zap.String("user_id", userID), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
}

// AuthenticationOptions issues a login challenge bound to a fresh session id.
func (s *Service) AuthenticationOptions(ctx context.Context) (*AuthenticationOptions, error) {
	assertion, session, err := s.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("passkey: begin login: %w", err)
	}
	sessionID := uuid.NewString()
	if err := s.putSession(ctx, loginKey(sessionID), session); err != nil {
		return nil, err
	}
	return &AuthenticationOptions{SessionID: sessionID, CredentialAssertion: *assertion}, nil
}

// VerifyAuthentication checks an assertion against the challenge of
// sessionID and the stored credential. The asserted signature counter must
// be strictly greater than the stored one.
func (s *Service) VerifyAuthentication(ctx context.Context, sessionID string, resp AuthenticationResponse) (*Credential, error) {
	rawID := []byte(resp.RawID)
	if len(rawID) == 0 {
		var err error
		if rawID, err = decodeB64(resp.ID); err != nil || len(rawID) == 0 {
			return nil, ErrCredentialNotFound
		}
	}
	cred, err := s.store.FindByCredentialID(ctx, encodeB64(rawID))
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	session, err := s.consumeSession(ctx, loginKey(sessionID))
	if err != nil {
		return nil, err
	}

	parsed, err := resp.Parse()
	if err != nil {
		return nil, s.assertionRejected(cred, err)
	}
	if !challengeMatches(parsed.Response.CollectedClientData.Challenge, session.Challenge) {
		return nil, ErrChallengeExpiredOrMissing
	}

	owner := func(credID, userHandle []byte) (webauthn.User, error) {
		if encodeB64(credID) != cred.CredentialID || encodeB64(userHandle) != cred.UserHandle {
			return nil, errUnknownHandle
		}
		wc, err := cred.toWebAuthn()
		if err != nil {
			return nil, err
		}
		return &webauthnUser{id: userHandle, creds: []webauthn.Credential{wc}}, nil
	}
	if _, err := s.wa.ValidateDiscoverableLogin(owner, *session, parsed); err != nil {
		return nil, s.assertionRejected(cred, err)
	}

	signCount := parsed.Response.AuthenticatorData.Counter
	if signCount <= cred.SignCount {
		return nil, s.assertionRejected(cred, fmt.Errorf("sign count %d not greater than stored %d", signCount, cred.SignCount))
	}

	usedAt := s.now().UTC()
	updated, err := s.store.UpdateSignCount(ctx, cred.ID, cred.SignCount, signCount, usedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: counter changed concurrently", ErrSignatureVerification)
	}
	cred.SignCount = signCount
	cred.LastUsedAt = &usedAt

	s.logger.Info("passkey authenticated", zap.String("user_id", cred.UserID), zap.String("credential_id", cred.CredentialID))
	return cred, nil
}

func (s *Service) assertionRejected(cred *Credential, err error) error {
	s.logger.Warn("passkey assertion rejected",
		zap.String("user_id", cred.UserID),
		zap.String("credential_id", cred.CredentialID),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
}

// List returns the passkeys of userID.
func (s *Service) List(ctx context.Context, userID string) ([]Credential, error) {
	creds, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return creds, nil
}

// HasPasskeys reports whether userID has at least one passkey.
func (s *Service) HasPasskeys(ctx context.Context, userID string) (bool, error) {
	ok, err := s.store.ExistsForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Rename changes the device name of a passkey owned by userID.
func (s *Service) Rename(ctx context.Context, userID string, id int64, name string) error {
	clean := strings.TrimSpace(s.policy.Sanitize(name))
	if err := s.validate.Var(clean, "required,max=64"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	if err := s.store.Rename(ctx, userID, id, clean); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("passkey renamed", zap.String("user_id", userID), zap.Int64("passkey_id", id))
	return nil
}

// Delete removes a passkey owned by userID.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	if err := s.store.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("passkey deleted", zap.String("user_id", userID), zap.Int64("passkey_id", id))
	return nil
}

func (s *Service) putSession(ctx context.Context, key string, session *webauthn.SessionData) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("passkey: encode session: %w", err)
	}
	if err := s.redis.Set(ctx, key, raw, s.cfg.ChallengeTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) consumeSession(ctx context.Context, key string) (*webauthn.SessionData, error) {
	raw, err := s.redis.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeExpiredOrMissing
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		s.logger.Warn("discarding unreadable passkey session", zap.String("key", key), zap.Error(err))
		return nil, ErrChallengeExpiredOrMissing
	}
	return &session, nil
}

func challengeMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Service) sanitizeName(name string) string {
	clean := strings.TrimSpace(s.policy.Sanitize(name))
	if clean == "" {
		return defaultDeviceName
	}
	if utf8.RuneCountInString(clean) > maxDeviceNameRunes {
		clean = string([]rune(clean)[:maxDeviceNameRunes])
	}
	return clean
}
