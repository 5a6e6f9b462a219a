package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/everkeep/legacy-access-service/internal/models"
)

// TrusteeRepository is read-only: trustee CRUD (invites, verification emails)
// belongs to the account tier. This service only needs the verified list to
// fan out confirmations and address the notifications.
type TrusteeRepository interface {
	ListVerifiedByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Trustee, error)
}

// OwnerRepository resolves the submitted owner identifier and supplies the
// owner's alert channels. Also read-only here.
type OwnerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error)
	GetByEmail(ctx context.Context, email string) (*models.Owner, error)
}

type trusteeRepo struct {
	db DB
}

func NewTrusteeRepository(db DB) TrusteeRepository {
	return &trusteeRepo{db: db}
}

func scanTrustee(row pgx.Row) (*models.Trustee, error) {
	var t models.Trustee
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Email, &t.PhoneNumber, &t.Verified, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *trusteeRepo) ListVerifiedByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Trustee, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, owner_id, name, email, phone_number, verified, created_at
        FROM trustees
        WHERE owner_id=$1 AND verified=TRUE
        ORDER BY created_at
    `, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Trustee
	for rows.Next() {
		t, err := scanTrustee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type ownerRepo struct {
	db DB
}

func NewOwnerRepository(db DB) OwnerRepository {
	return &ownerRepo{db: db}
}

func scanOwner(row pgx.Row) (*models.Owner, error) {
	var o models.Owner
	err := row.Scan(&o.ID, &o.Name, &o.Email, &o.PhoneNumber, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *ownerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, name, email, phone_number, created_at
        FROM owners WHERE id=$1
    `, id)
	return scanOwner(row)
}

// GetByEmail returns (nil, nil) when no account matches. Callers must not
// surface that distinction to the requester.
func (r *ownerRepo) GetByEmail(ctx context.Context, email string) (*models.Owner, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, name, email, phone_number, created_at
        FROM owners WHERE lower(email)=lower($1)
    `, email)
	o, err := scanOwner(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}
