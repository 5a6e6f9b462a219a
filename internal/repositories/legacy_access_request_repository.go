package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

/* ------------------------------------------------------------------
   Public interface
------------------------------------------------------------------ */

// StatusFields carries the per-transition column writes. Nil pointer fields
// leave the existing value untouched, which keeps grace_period_end immutable
// once set: callers pass it exactly once, on entry into GRACE_PERIOD.
type StatusFields struct {
	StatusMessage   string
	GracePeriodEnd  *time.Time
	AccessExpiresAt *time.Time
}

type LegacyAccessRequestRepository interface {
	// Create inserts the request, failing with utils.ErrDuplicateActiveRequest
	// when a non-terminal request already exists for (owner, requester email).
	Create(ctx context.Context, req *models.LegacyAccessRequest) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.LegacyAccessRequest, error)
	ListByRequesterEmail(ctx context.Context, email string) ([]*models.LegacyAccessRequest, error)
	ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]*models.LegacyAccessRequest, error)

	// TransitionStatus performs a compare-and-swap status move: the UPDATE
	// only fires while the current status is one of `expected`. Zero rows
	// means a concurrent actor got there first (or the caller replayed a
	// tick) and surfaces as utils.ErrInvalidTransition.
	TransitionStatus(
		ctx context.Context,
		id uuid.UUID,
		expected []models.AccessRequestStatusType,
		to models.AccessRequestStatusType,
		fields StatusFields,
	) (*models.LegacyAccessRequest, error)

	// Sweep inputs. Both are pure reads of persisted timestamps vs. `now`,
	// so sweeps survive process restarts and concurrent instances.
	ListGracePeriodExpired(ctx context.Context, now time.Time) ([]*models.LegacyAccessRequest, error)
	ListGrantedExpired(ctx context.Context, now time.Time) ([]*models.LegacyAccessRequest, error)

	// ListGrantedWithoutToken returns GRANTED requests whose bearer token was
	// never minted: issuance failed, or the process died between the status
	// move and the token insert. The sweep finishes these grants.
	ListGrantedWithoutToken(ctx context.Context) ([]*models.LegacyAccessRequest, error)
}

/* ------------------------------------------------------------------
   Implementation
------------------------------------------------------------------ */

type legacyAccessRequestRepo struct {
	db DB
}

func NewLegacyAccessRequestRepository(db DB) LegacyAccessRequestRepository {
	return &legacyAccessRequestRepo{db: db}
}

func baseSelectRequest() string {
	return `
        SELECT
            id, owner_id, requester_name, requester_email, relationship,
            verification_method, death_certificate_url,
            status, status_message, trustee_total,
            grace_period_end, access_expires_at,
            created_at, updated_at
        FROM legacy_access_requests
    `
}

func scanRequest(row pgx.Row) (*models.LegacyAccessRequest, error) {
	var req models.LegacyAccessRequest
	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.RequesterName,
		&req.RequesterEmail,
		&req.Relationship,
		&req.VerificationMethod,
		&req.DeathCertificateURL,
		&req.Status,
		&req.StatusMessage,
		&req.TrusteeTotal,
		&req.GracePeriodEnd,
		&req.AccessExpiresAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func statusStrings(statuses []models.AccessRequestStatusType) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *legacyAccessRequestRepo) Create(ctx context.Context, req *models.LegacyAccessRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	// Duplicate-active guard. The check-then-insert runs in one tx and the
	// table additionally carries a partial unique index on
	// (owner_id, lower(requester_email)) WHERE status IN (active set), so a
	// concurrent submit loses with 23505 rather than slipping through.
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `
        SELECT id FROM legacy_access_requests
        WHERE owner_id IS NOT DISTINCT FROM $1
          AND lower(requester_email) = lower($2)
          AND status = ANY($3)
        LIMIT 1
    `, req.OwnerID, req.RequesterEmail, statusStrings(models.ActiveStatuses())).Scan(&existing)
	if err == nil {
		err = utils.ErrDuplicateActiveRequest
		return err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	err = nil

	_, err = tx.Exec(ctx, `
        INSERT INTO legacy_access_requests (
            id, owner_id, requester_name, requester_email, relationship,
            verification_method, death_certificate_url,
            status, status_message, trustee_total,
            created_at, updated_at
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()
        )
    `,
		req.ID,
		req.OwnerID,
		req.RequesterName,
		req.RequesterEmail,
		req.Relationship,
		req.VerificationMethod,
		req.DeathCertificateURL,
		req.Status,
		req.StatusMessage,
		req.TrusteeTotal,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = utils.ErrDuplicateActiveRequest
		}
		return err
	}
	return nil
}

func (r *legacyAccessRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LegacyAccessRequest, error) {
	row := r.db.QueryRow(ctx, baseSelectRequest()+" WHERE id=$1", id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrNotFound
	}
	return req, err
}

func (r *legacyAccessRequestRepo) ListByRequesterEmail(ctx context.Context, email string) ([]*models.LegacyAccessRequest, error) {
	rows, err := r.db.Query(ctx, baseSelectRequest()+`
        WHERE lower(requester_email) = lower($1)
        ORDER BY created_at DESC
    `, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *legacyAccessRequestRepo) ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]*models.LegacyAccessRequest, error) {
	rows, err := r.db.Query(ctx, baseSelectRequest()+`
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]*models.LegacyAccessRequest, error) {
	var out []*models.LegacyAccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *legacyAccessRequestRepo) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	expected []models.AccessRequestStatusType,
	to models.AccessRequestStatusType,
	fields StatusFields,
) (*models.LegacyAccessRequest, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE legacy_access_requests
        SET status            = $1,
            status_message    = $2,
            grace_period_end  = COALESCE($3, grace_period_end),
            access_expires_at = COALESCE($4, access_expires_at),
            updated_at        = NOW()
        WHERE id = $5 AND status = ANY($6)
    `,
		to,
		fields.StatusMessage,
		fields.GracePeriodEnd,
		fields.AccessExpiresAt,
		id,
		statusStrings(expected),
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, utils.ErrInvalidTransition
	}
	return r.GetByID(ctx, id)
}

func (r *legacyAccessRequestRepo) ListGracePeriodExpired(ctx context.Context, now time.Time) ([]*models.LegacyAccessRequest, error) {
	rows, err := r.db.Query(ctx, baseSelectRequest()+`
        WHERE status = $1 AND grace_period_end IS NOT NULL AND grace_period_end <= $2
    `, models.RequestStatusGracePeriod, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *legacyAccessRequestRepo) ListGrantedExpired(ctx context.Context, now time.Time) ([]*models.LegacyAccessRequest, error) {
	rows, err := r.db.Query(ctx, baseSelectRequest()+`
        WHERE status = $1 AND access_expires_at IS NOT NULL AND access_expires_at <= $2
    `, models.RequestStatusGranted, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r *legacyAccessRequestRepo) ListGrantedWithoutToken(ctx context.Context) ([]*models.LegacyAccessRequest, error) {
	rows, err := r.db.Query(ctx, `
        SELECT
            r.id, r.owner_id, r.requester_name, r.requester_email, r.relationship,
            r.verification_method, r.death_certificate_url,
            r.status, r.status_message, r.trustee_total,
            r.grace_period_end, r.access_expires_at,
            r.created_at, r.updated_at
        FROM legacy_access_requests r
        LEFT JOIN access_tokens t ON t.request_id = r.id
        WHERE r.status = $1 AND t.id IS NULL
    `, models.RequestStatusGranted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}
