package authrefresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/lock"
)

// ErrUnauthorized means the presented refresh token failed verification:
// missing, revoked, or expired.
var ErrUnauthorized = errors.New("refresh token invalid, revoked, or expired")

// Tokens is the protocol's output: a fresh access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Service implements the refresh-path protocol.
type Service struct {
	issuer  *TokenIssuer
	repo    *Repository
	lock    *lock.RefreshLock
	lockTTL time.Duration
	waitMax time.Duration
	log     zerolog.Logger
}

// NewService constructs a Service.
func NewService(issuer *TokenIssuer, repo *Repository, l *lock.RefreshLock, lockTTL, waitMax time.Duration, log zerolog.Logger) *Service {
	return &Service{
		issuer:  issuer,
		repo:    repo,
		lock:    l,
		lockTTL: lockTTL,
		waitMax: waitMax,
		log:     log.With().Str("component", "authrefresh_service").Logger(),
	}
}

// Refresh runs the full protocol for sessionID, identified by the
// presented raw refresh token.
//
//  1. Verify (hash lookup IS the cryptographic verification here: an
//     unguessable, unique-per-row opaque token; see HashRefreshToken).
//  2. Acquire the lock, retrying once after a wait; domain.ErrLockHeld on
//     double failure (caller responds 429).
//  3. Under the lock, in one transaction: load-and-lock the old token row,
//     mint and store the new one, then revoke the old one.
//  4. Commit, release the lock, return the new tokens.
func (s *Service) Refresh(ctx context.Context, sessionID, rawToken string) (Tokens, error) {
	holder := uuid.New().String()
	if err := s.lock.AcquireWithRetry(ctx, sessionID, holder, s.lockTTL, s.waitMax); err != nil {
		return Tokens{}, err
	}
	defer s.lock.Release(ctx, sessionID)

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return Tokens{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	hash := HashRefreshToken(rawToken)
	old, err := s.repo.LoadForUpdate(ctx, tx, hash)
	if errors.Is(err, ErrNotFound) {
		return Tokens{}, ErrUnauthorized
	}
	if err != nil {
		return Tokens{}, err
	}

	now := time.Now()
	if old.Revoked() || old.Expired(now) {
		return Tokens{}, ErrUnauthorized
	}

	rawRefresh, newHash := s.issuer.NewRefreshToken()
	newToken := domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    old.UserID,
		TokenHash: newHash,
		ExpiresAt: now.Add(RefreshTokenTTL),
	}
	if err := s.repo.Insert(ctx, tx, newToken); err != nil {
		return Tokens{}, err
	}

	// Revoke the old token only after the new one is durably staged in
	// the same transaction, so a concurrent reader on another node sees
	// either the old-still-valid or the new-valid state, never both
	// revoked.
	if err := s.repo.Revoke(ctx, tx, old.ID, now); err != nil {
		return Tokens{}, err
	}

	access, err := s.issuer.MintAccessToken(old.UserID, now)
	if err != nil {
		return Tokens{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Tokens{}, fmt.Errorf("authrefresh: commit refresh transaction: %w", err)
	}

	return Tokens{AccessToken: access, RefreshToken: rawRefresh, ExpiresAt: newToken.ExpiresAt}, nil
}
