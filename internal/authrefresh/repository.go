package authrefresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

// ErrNotFound means no refresh-token row matches the presented hash.
var ErrNotFound = errors.New("refresh token not found")

// Repository persists refresh tokens.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, log zerolog.Logger) *Repository {
	return &Repository{pool: pool, log: log.With().Str("component", "authrefresh_repository").Logger()}
}

// BeginTx starts the transaction the refresh protocol runs under.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// LoadForUpdate loads and row-locks the refresh token row by hash
// (SELECT ... FOR UPDATE). Returns ErrNotFound if no row matches.
func (r *Repository) LoadForUpdate(ctx context.Context, tx pgx.Tx, tokenHash string) (domain.RefreshToken, error) {
	const query = `
		SELECT id, user_id, token_hash, expires_at, revoked_at
		FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`

	var rt domain.RefreshToken
	err := tx.QueryRow(ctx, query, tokenHash).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("authrefresh: load refresh token: %w", err)
	}
	return rt, nil
}

// Insert writes a newly minted refresh token's hash and expiry.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rt domain.RefreshToken) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		rt.ID, rt.UserID, rt.TokenHash, rt.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("authrefresh: insert refresh token: %w", err)
	}
	return nil
}

// Revoke marks a refresh token row as revoked at now. Called only after
// the replacement token has already been inserted: mint and store the
// new token before revoking the old one.
func (r *Repository) Revoke(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("authrefresh: revoke refresh token %s: %w", id, err)
	}
	return nil
}
