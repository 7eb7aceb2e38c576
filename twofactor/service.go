// Package twofactor implements TOTP second-factor enrollment and
// verification with single-use backup codes.
//
// Codes follow RFC 6238 (SHA1, 6 digits, 30 s period) through
// github.com/pquerna/otp. The shared secret and the backup code list are
// encrypted with a [fieldcrypt.Encryptor] before they reach the [Store]. A
// secret written by Setup stays unconfirmed until Enable sees a valid code.
package twofactor

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/fieldcrypt"
	"github.com/MrEthical07/authcore/internal"
)

var (
	// ErrNotFound is returned by stores for users without a record.
	ErrNotFound = errors.New("two-factor record not found")
	// ErrAlreadyEnabled is returned by Setup and Enable once 2FA is on.
	ErrAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrNotSetup is returned when no secret has been provisioned.
	ErrNotSetup = errors.New("two-factor not set up")
	// ErrNotEnabled is returned by operations that need 2FA on.
	ErrNotEnabled = errors.New("two-factor not enabled")
	// ErrInvalidCode is returned for a wrong TOTP code.
	ErrInvalidCode = errors.New("invalid two-factor code")
	// ErrStoreUnavailable wraps store and crypto failures.
	ErrStoreUnavailable = errors.New("two-factor store unavailable")
)

const (
	defaultIssuer           = "AuthService"
	defaultBackupCodeCount  = 8
	defaultBackupCodeDigits = 8
	defaultQRSize           = 200
	swapAttempts            = 3
	totpPeriod              = 30
)

// Config tunes code generation.
type Config struct {
	Issuer           string
	Skew             uint
	BackupCodeCount  int
	BackupCodeDigits int
	QRSize           int
}

// SetupResult is returned by Setup. Secret is the base32 shared secret.
type SetupResult struct {
	Secret        string `json:"secret"`
	OTPAuthURL    string `json:"otpauthUrl"`
	QRCodeDataURL string `json:"qrCodeDataUrl"`
}

// Status summarizes a user's two-factor state.
type Status struct {
	Enabled              bool       `json:"enabled"`
	RemainingBackupCodes int        `json:"remainingBackupCodes"`
	LastUsedAt           *time.Time `json:"lastUsedAt,omitempty"`
}

// Service runs TOTP enrollment and verification.
type Service struct {
	store  Store
	enc    fieldcrypt.Encryptor
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(store Store, enc fieldcrypt.Encryptor, cfg Config, logger *zap.Logger) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = defaultBackupCodeCount
	}
	if cfg.BackupCodeDigits <= 0 {
		cfg.BackupCodeDigits = defaultBackupCodeDigits
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = defaultQRSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, enc: enc, cfg: cfg, logger: logger.Named("twofactor"), now: time.Now}
}

// WithClock returns a copy of s validating codes against now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// Setup provisions a new unconfirmed secret for userID.
func (s *Service) Setup(ctx context.Context, userID, accountName string) (*SetupResult, error) {
	rec, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Enabled {
		return nil, ErrAlreadyEnabled
	}
	if accountName == "" {
		accountName = "user@" + userID
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("twofactor: generate key: %w", err)
	}

	secretEnc, err := s.enc.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.store.SaveSecret(ctx, userID, secretEnc, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	qr, err := qrDataURL(key, s.cfg.QRSize)
	if err != nil {
		return nil, err
	}
	s.logger.Info("two-factor setup started", zap.String("user_id", userID))
	return &SetupResult{Secret: key.Secret(), OTPAuthURL: key.URL(), QRCodeDataURL: qr}, nil
}

// Enable confirms the pending secret with code and returns fresh backup
// codes.
func (s *Service) Enable(ctx context.Context, userID, code string) ([]string, error) {
	rec, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Enabled {
		return nil, ErrAlreadyEnabled
	}
	if rec == nil || rec.SecretEnc == "" {
		return nil, ErrNotSetup
	}
	if err := s.useTOTP(ctx, userID, rec, code); err != nil {
		return nil, err
	}

	codes, codesEnc, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.store.Enable(ctx, userID, codesEnc, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("two-factor enabled", zap.String("user_id", userID))
	return codes, nil
}

// Disable turns 2FA off after checking a TOTP code.
func (s *Service) Disable(ctx context.Context, userID, code string) error {
	rec, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.useTOTP(ctx, userID, rec, code); err != nil {
		return err
	}
	if err := s.store.Disable(ctx, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("two-factor disabled", zap.String("user_id", userID))
	return nil
}

// RegenerateBackupCodes replaces every backup code after checking a TOTP
// code.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	rec, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.useTOTP(ctx, userID, rec, code); err != nil {
		return nil, err
	}
	codes, codesEnc, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	swapped, err := s.store.SwapBackupCodes(ctx, userID, rec.BackupCodesEnc, codesEnc, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !swapped {
		return nil, fmt.Errorf("%w: backup codes changed concurrently", ErrStoreUnavailable)
	}
	s.logger.Info("backup codes regenerated", zap.String("user_id", userID))
	return codes, nil
}

// VerifyCode checks code as a TOTP code and then as a backup code. A user
// without 2FA enabled always passes. A matching backup code is consumed.
func (s *Service) VerifyCode(ctx context.Context, userID, code string) (bool, error) {
	rec, err := s.get(ctx, userID)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.Enabled {
		return true, nil
	}

	err = s.useTOTP(ctx, userID, rec, code)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrInvalidCode) {
		return false, err
	}

	ok, err := s.consumeBackupCode(ctx, rec, code)
	if err != nil || !ok {
		return false, err
	}
	return true, s.recordUsage(ctx, userID)
}

// Status reports whether 2FA is on, how many backup codes remain and when a
// code was last accepted.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	rec, err := s.get(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if rec == nil || !rec.Enabled {
		return Status{}, nil
	}
	codes, err := s.decodeCodes(rec.BackupCodesEnc)
	if err != nil {
		return Status{}, err
	}
	return Status{Enabled: true, RemainingBackupCodes: len(codes), LastUsedAt: rec.LastUsedAt}, nil
}

// IsRequired reports whether userID must pass a second factor at login.
func (s *Service) IsRequired(ctx context.Context, userID string) (bool, error) {
	on, err := s.store.IsEnabled(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return on, nil
}

func (s *Service) get(ctx context.Context, userID string) (*Record, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *Service) requireEnabled(ctx context.Context, userID string) (*Record, error) {
	rec, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotSetup
	}
	if !rec.Enabled {
		return nil, ErrNotEnabled
	}
	return rec, nil
}

// useTOTP accepts code once: the matching time step must be newer than the
// last accepted one, and is recorded before returning.
func (s *Service) useTOTP(ctx context.Context, userID string, rec *Record, code string) error {
	counter, err := s.matchTOTP(rec, code)
	if err != nil {
		return err
	}
	if counter <= rec.LastUsedCounter {
		s.logger.Warn("totp code replayed", zap.String("user_id", userID), zap.Int64("counter", counter))
		return ErrInvalidCode
	}
	updated, err := s.store.UpdateLastUsedCounter(ctx, userID, counter, s.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !updated {
		s.logger.Warn("totp code replayed", zap.String("user_id", userID), zap.Int64("counter", counter))
		return ErrInvalidCode
	}
	return nil
}

// matchTOTP returns the time step, within the configured skew, whose code
// equals code.
func (s *Service) matchTOTP(rec *Record, code string) (int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return 0, ErrInvalidCode
	}
	secret, err := s.enc.Decrypt(rec.SecretEnc)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.cfg.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
	current := s.now().UTC().Unix() / totpPeriod
	skew := int64(s.cfg.Skew)
	matched := int64(-1)
	for counter := current - skew; counter <= current+skew; counter++ {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(counter*totpPeriod, 0).UTC(), opts)
		if err != nil {
			return 0, ErrInvalidCode
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			matched = counter
		}
	}
	if matched < 0 {
		return 0, ErrInvalidCode
	}
	return matched, nil
}

func (s *Service) consumeBackupCode(ctx context.Context, rec *Record, code string) (bool, error) {
	code = normalizeBackupCode(code)
	if len(code) != s.cfg.BackupCodeDigits {
		return false, nil
	}

	current := rec
	for attempt := 0; attempt < swapAttempts; attempt++ {
		codes, err := s.decodeCodes(current.BackupCodesEnc)
		if err != nil {
			return false, err
		}
		idx := -1
		for i, c := range codes {
			if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 {
				idx = i
			}
		}
		if idx < 0 {
			return false, nil
		}

		remaining := append(codes[:idx:idx], codes[idx+1:]...)
		newEnc, err := s.encodeCodes(remaining)
		if err != nil {
			return false, err
		}
		swapped, err := s.store.SwapBackupCodes(ctx, rec.UserID, current.BackupCodesEnc, newEnc, s.now().UTC())
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if swapped {
			s.logger.Info("backup code consumed",
				zap.String("user_id", rec.UserID),
				zap.Int("remaining", len(remaining)),
			)
			return true, nil
		}

		// Lost a race with another consumption; re-read and try again.
		current, err = s.get(ctx, rec.UserID)
		if err != nil {
			return false, err
		}
		if current == nil || !current.Enabled {
			return false, nil
		}
	}
	return false, nil
}

func (s *Service) recordUsage(ctx context.Context, userID string) error {
	if err := s.store.RecordUsage(ctx, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) newBackupCodes() ([]string, string, error) {
	codes := make([]string, s.cfg.BackupCodeCount)
	for i := range codes {
		c, err := internal.RandomDigits(s.cfg.BackupCodeDigits)
		if err != nil {
			return nil, "", fmt.Errorf("twofactor: backup code: %w", err)
		}
		codes[i] = c
	}
	enc, err := s.encodeCodes(codes)
	if err != nil {
		return nil, "", err
	}
	return codes, enc, nil
}

func (s *Service) encodeCodes(codes []string) (string, error) {
	raw, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("twofactor: encode backup codes: %w", err)
	}
	enc, err := s.enc.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return enc, nil
}

func (s *Service) decodeCodes(enc string) ([]string, error) {
	if enc == "" {
		return nil, nil
	}
	raw, err := s.enc.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var codes []string
	if err := json.Unmarshal([]byte(raw), &codes); err != nil {
		// A corrupt list reads as empty.
		s.logger.Warn("backup code list unreadable", zap.Error(err))
		return nil, nil
	}
	return codes, nil
}

func normalizeBackupCode(code string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(code))
}

func qrDataURL(key *otp.Key, size int) (string, error) {
	img, err := key.Image(size, size)
	if err != nil {
		return "", fmt.Errorf("twofactor: qr image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("twofactor: qr encode: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
