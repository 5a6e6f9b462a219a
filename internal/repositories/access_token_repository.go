package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

type AccessTokenRepository interface {
	// CreateIfAbsent inserts the token unless one already exists for the
	// request, in which case the existing row comes back. Issuance is
	// idempotent: duplicate grant ticks never mint a second bearer value.
	CreateIfAbsent(ctx context.Context, tok *models.AccessToken) (*models.AccessToken, error)

	GetByValue(ctx context.Context, value string) (*models.AccessToken, error)
	GetByRequestID(ctx context.Context, requestID uuid.UUID) (*models.AccessToken, error)

	// Revoke flips the token irreversibly. Safe to call repeatedly.
	Revoke(ctx context.Context, requestID uuid.UUID) error
}

type accessTokenRepo struct {
	db DB
}

func NewAccessTokenRepository(db DB) AccessTokenRepository {
	return &accessTokenRepo{db: db}
}

func baseSelectToken() string {
	return `
        SELECT id, request_id, value, expires_at, revoked, revoked_at, created_at
        FROM access_tokens
    `
}

func scanToken(row pgx.Row) (*models.AccessToken, error) {
	var t models.AccessToken
	err := row.Scan(&t.ID, &t.RequestID, &t.Value, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *accessTokenRepo) CreateIfAbsent(ctx context.Context, tok *models.AccessToken) (*models.AccessToken, error) {
	// Unique index on request_id makes the insert race-safe across
	// concurrent sweep instances: exactly one INSERT wins, everyone reads
	// back the same row.
	_, err := r.db.Exec(ctx, `
        INSERT INTO access_tokens (id, request_id, value, expires_at, revoked, created_at)
        VALUES ($1,$2,$3,$4,FALSE,NOW())
        ON CONFLICT (request_id) DO NOTHING
    `, tok.ID, tok.RequestID, tok.Value, tok.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return r.GetByRequestID(ctx, tok.RequestID)
}

func (r *accessTokenRepo) GetByValue(ctx context.Context, value string) (*models.AccessToken, error) {
	row := r.db.QueryRow(ctx, baseSelectToken()+" WHERE value=$1", value)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrTokenNotFound
	}
	return t, err
}

func (r *accessTokenRepo) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*models.AccessToken, error) {
	row := r.db.QueryRow(ctx, baseSelectToken()+" WHERE request_id=$1", requestID)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrTokenNotFound
	}
	return t, err
}

func (r *accessTokenRepo) Revoke(ctx context.Context, requestID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
        UPDATE access_tokens
        SET revoked=TRUE, revoked_at=COALESCE(revoked_at, $2)
        WHERE request_id=$1
    `, requestID, time.Now().UTC())
	return err
}
