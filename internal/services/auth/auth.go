package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/lib/jwt"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password too short")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

type CredentialStorage interface {
	SaveCredential(ctx context.Context, cred models.Credential) error
	Credential(ctx context.Context, email string) (*models.Credential, error)
	DeleteCredential(ctx context.Context, uid string) error
}

// Service is the auth gateway: it owns credentials and sessions.
// Signed-out tokens stay revoked until they would have expired anyway.
type Service struct {
	log       *slog.Logger
	storage   CredentialStorage
	jwtSecret string
	tokenTTL  time.Duration
	revoked   sync.Map
}

func New(log *slog.Logger, storage CredentialStorage, jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		log:       log,
		storage:   storage,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// SignUp creates a credential and returns the identity key for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (string, error) {
	const op = "auth.SignUp"

	email = NormalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return "", ErrWeakPassword
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("Failed to hash password", "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	cred := models.Credential{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(passHash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.storage.SaveCredential(ctx, cred); err != nil {
		if errors.Is(err, storage.ErrCredentialExists) {
			return "", ErrEmailTaken
		}
		s.log.Error("Failed to save credential", "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("Credential created", slog.String("uid", cred.UID))

	return cred.UID, nil
}

// SignIn checks the password and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	const op = "auth.SignIn"

	cred, err := s.storage.Credential(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := jwt.NewToken(cred, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

// SignOut revokes the session's token.
func (s *Service) SignOut(session *models.Session) {
	if session == nil {
		return
	}
	s.revoked.Store(session.TokenID, session.ExpiresAt)
	s.log.Info("Signed out", slog.String("uid", session.UID))
}

// Current resolves a bearer token to the session it belongs to.
func (s *Service) Current(token string) (*models.Session, error) {
	session, err := jwt.ParseSession(token, s.jwtSecret)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	if _, revoked := s.revoked.Load(session.TokenID); revoked {
		return nil, ErrUnauthenticated
	}

	return session, nil
}

// Delete removes a credential. Registration uses it to undo a sign-up
// whose profile could not be written.
func (s *Service) Delete(ctx context.Context, uid string) error {
	return s.storage.DeleteCredential(ctx, uid)
}

// SweepRevoked forgets revocations whose tokens expired before now.
func (s *Service) SweepRevoked(now time.Time) int {
	removed := 0
	s.revoked.Range(func(key, value any) bool {
		if expiresAt, ok := value.(time.Time); ok && expiresAt.Before(now) {
			s.revoked.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// RunSweeper calls SweepRevoked every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.SweepRevoked(now); n > 0 {
				s.log.Debug("Swept revoked tokens", slog.Int("count", n))
			}
		}
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
