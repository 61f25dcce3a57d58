// Package auth implements the identity and session service: one-time-code
// login, session token minting, and stateless token validation.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bluetap-cloud/bluetap/internal/storage"
)

// Default lifetimes for codes and sessions.
const (
	DefaultCodeTTL  = 5 * time.Minute
	DefaultTokenTTL = 1 * time.Hour
)

// Sentinel errors surfaced to the gateway layer, which maps them to
// machine-readable reason codes.
var (
	ErrContactRequired = errors.New("unknown user: contact required to register")
	ErrNoActiveCode    = errors.New("no access code on file")
	ErrCodeExpired     = errors.New("access code expired")
	ErrCodeMismatch    = errors.New("access code mismatch")
)

// Notifier delivers a one-time code to a user's contact. Delivery transport
// (email, SMS, ...) is outside the core; it reports only whether the code
// was handed off.
type Notifier interface {
	Notify(contact, code string) bool
}

// LogNotifier writes codes to the process log. Useful for development and as
// the default when no real channel is configured.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(contact, code string) bool {
	fmt.Printf("[notify] access code for %s: %s\n", contact, code)
	return true
}

// Service issues access codes and session tokens backed by the shared
// embedded store, so any gateway replica can validate a session.
type Service struct {
	db       *storage.DB
	notifier Notifier
	codeTTL  time.Duration
	tokenTTL time.Duration
	now      func() time.Time
}

// New creates a Service with default TTLs.
func New(db *storage.DB, notifier Notifier) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		codeTTL:  DefaultCodeTTL,
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
	}
}

// RequestAccessCode generates and dispatches a 6-digit code for username.
// Unknown users are registered on the spot when a contact is supplied;
// otherwise ErrContactRequired. Known users keep their stored contact and
// any contact argument is ignored. Returns the contact the code was sent to.
func (s *Service) RequestAccessCode(username, contact string) (string, error) {
	user, err := s.db.GetUser(username)
	if errors.Is(err, storage.ErrNotFound) {
		if contact == "" {
			return "", ErrContactRequired
		}
		user = &storage.User{
			Username:  username,
			Contact:   contact,
			CreatedAt: s.now().Unix(),
		}
		if err := s.db.CreateUser(user); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	ac := &storage.AccessCode{
		Username:  username,
		Code:      code,
		ExpiresAt: s.now().Add(s.codeTTL).Unix(),
	}
	if err := s.db.SaveAccessCode(ac); err != nil {
		return "", err
	}

	s.notifier.Notify(user.Contact, code)
	return user.Contact, nil
}

// VerifyAccessCode checks the code on file for username. On success the code
// is invalidated (single use) and a fresh session is persisted and returned.
func (s *Service) VerifyAccessCode(username, code string) (*storage.Session, error) {
	ac, err := s.db.GetAccessCode(username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoActiveCode
	}
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= ac.ExpiresAt {
		return nil, ErrCodeExpired
	}
	if ac.Code != code {
		return nil, ErrCodeMismatch
	}

	if err := s.db.DeleteAccessCode(username); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	sess := &storage.Session{
		Token:     token,
		Username:  username,
		ExpiresAt: s.now().Add(s.tokenTTL).Unix(),
	}
	if err := s.db.CreateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ValidateSession returns the owning username for a token, or false if the
// token is unknown or past expiry. Pure lookup, no side effects.
func (s *Service) ValidateSession(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	sess, err := s.db.GetSession(token)
	if err != nil {
		return "", false
	}
	if s.now().Unix() >= sess.ExpiresAt {
		return "", false
	}
	return sess.Username, true
}

// SweepExpired removes expired codes and sessions. Returns the total number
// of rows removed.
func (s *Service) SweepExpired() (int, error) {
	now := s.now().Unix()
	codes, err := s.db.DeleteExpiredAccessCodes(now)
	if err != nil {
		return 0, err
	}
	sessions, err := s.db.DeleteExpiredSessions(now)
	if err != nil {
		return codes, err
	}
	return codes + sessions, nil
}

// generateCode returns a random 6-digit numeric code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// generateToken returns an opaque, unguessable session token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
