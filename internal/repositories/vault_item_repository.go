package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// VaultItemRepository reads the content bundle released after a grant.
// Rows are written (encrypted) by the web tier; this repository decrypts
// with the per-owner key derived from the shared master secret. Vault CRUD
// itself lives elsewhere.
type VaultItemRepository interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.VaultItem, error)
}

type vaultItemRepo struct {
	db        DB
	masterKey []byte
}

func NewVaultItemRepository(db DB, masterKey []byte) VaultItemRepository {
	return &vaultItemRepo{db: db, masterKey: masterKey}
}

func (r *vaultItemRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.VaultItem, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, owner_id, category, title, content_encrypted, created_at
        FROM vault_items
        WHERE owner_id=$1
        ORDER BY category, created_at
    `, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := utils.DeriveOwnerKey(r.masterKey, ownerID.String())

	var out []*models.VaultItem
	for rows.Next() {
		var item models.VaultItem
		var enc string
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Category, &item.Title, &enc, &item.CreatedAt); err != nil {
			return nil, err
		}
		plain, err := utils.Decrypt(key, enc)
		if err != nil {
			// An undecryptable row is a data problem, not a reason to hide
			// the rest of the bundle. Log and skip.
			utils.Logger.WithError(err).Warnf("Skipping undecryptable vault item %s", item.ID)
			continue
		}
		item.Content = plain
		out = append(out, &item)
	}
	return out, rows.Err()
}
