package models

import (
	"time"

	"github.com/google/uuid"
)

type VaultCategoryType string

const (
	VaultCategoryIdentity     VaultCategoryType = "IDENTITY"
	VaultCategoryFinance      VaultCategoryType = "FINANCE"
	VaultCategoryInsurance    VaultCategoryType = "INSURANCE"
	VaultCategorySubscription VaultCategoryType = "SUBSCRIPTION"
	VaultCategoryLetter       VaultCategoryType = "LETTER"
	VaultCategoryMemory       VaultCategoryType = "MEMORY"
)

// VaultItem rows are written by the web tier with per-owner AES-GCM
// encryption; this service only reads them to assemble the content bundle
// for a granted access token. Content holds plaintext after repository
// decryption and is never persisted in that form.
type VaultItem struct {
	ID        uuid.UUID         `json:"id"`
	OwnerID   uuid.UUID         `json:"owner_id"`
	Category  VaultCategoryType `json:"category"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}
