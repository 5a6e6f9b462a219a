// Package testhelpers provides in-memory repository implementations and
// notification recorders for service and controller tests. The fakes honor
// the same error contracts and idempotency rules as the Postgres
// implementations, including the single-transaction respond-and-tally
// semantics, so quorum races can be exercised without a database.
package testhelpers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/legacy-access-service/internal/constants"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/repositories"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

// MemoryStore is the shared backing state for all fake repositories. Tests
// seed it directly and inspect it after the fact.
type MemoryStore struct {
	mu sync.Mutex

	Requests      map[uuid.UUID]*models.LegacyAccessRequest
	Confirmations map[uuid.UUID]*models.TrusteeConfirmation
	Trustees      map[uuid.UUID]*models.Trustee
	Owners        map[uuid.UUID]*models.Owner
	Tokens        map[uuid.UUID]*models.AccessToken // keyed by request ID
	VaultItems    map[uuid.UUID][]*models.VaultItem // keyed by owner ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Requests:      make(map[uuid.UUID]*models.LegacyAccessRequest),
		Confirmations: make(map[uuid.UUID]*models.TrusteeConfirmation),
		Trustees:      make(map[uuid.UUID]*models.Trustee),
		Owners:        make(map[uuid.UUID]*models.Owner),
		Tokens:        make(map[uuid.UUID]*models.AccessToken),
		VaultItems:    make(map[uuid.UUID][]*models.VaultItem),
	}
}

// SeedOwner registers an owner account.
func (s *MemoryStore) SeedOwner(name, email string, phone *string) *models.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &models.Owner{
		ID:          uuid.New(),
		Name:        name,
		Email:       email,
		PhoneNumber: phone,
		CreatedAt:   time.Now().UTC(),
	}
	s.Owners[o.ID] = o
	return o
}

// SeedTrustee registers a trustee for an owner.
func (s *MemoryStore) SeedTrustee(ownerID uuid.UUID, name, email string, verified bool) *models.Trustee {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &models.Trustee{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		Email:     email,
		Verified:  verified,
		CreatedAt: time.Now().UTC(),
	}
	s.Trustees[t.ID] = t
	return t
}

// SeedVaultItem adds a plaintext vault item for an owner.
func (s *MemoryStore) SeedVaultItem(ownerID uuid.UUID, category models.VaultCategoryType, title, content string) *models.VaultItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := &models.VaultItem{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Category:  category,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.VaultItems[ownerID] = append(s.VaultItems[ownerID], it)
	return it
}

func cloneRequest(r *models.LegacyAccessRequest) *models.LegacyAccessRequest {
	cp := *r
	return &cp
}

func cloneConfirmation(c *models.TrusteeConfirmation) *models.TrusteeConfirmation {
	cp := *c
	return &cp
}

func cloneToken(t *models.AccessToken) *models.AccessToken {
	cp := *t
	return &cp
}

/* ------------------------------------------------------------------
   LegacyAccessRequestRepository
------------------------------------------------------------------ */

type MemoryRequestRepo struct {
	store *MemoryStore
}

func NewMemoryRequestRepo(store *MemoryStore) *MemoryRequestRepo {
	return &MemoryRequestRepo{store: store}
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *MemoryRequestRepo) Create(ctx context.Context, req *models.LegacyAccessRequest) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.Requests {
		if sameOwner(existing.OwnerID, req.OwnerID) &&
			strings.EqualFold(existing.RequesterEmail, req.RequesterEmail) &&
			!models.IsTerminal(existing.Status) {
			return utils.ErrDuplicateActiveRequest
		}
	}

	now := time.Now().UTC()
	cp := cloneRequest(req)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.Requests[cp.ID] = cp
	return nil
}

func (r *MemoryRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *MemoryRequestRepo) ListByRequesterEmail(ctx context.Context, email string) ([]*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LegacyAccessRequest
	for _, req := range s.Requests {
		if strings.EqualFold(req.RequesterEmail, email) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *MemoryRequestRepo) ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LegacyAccessRequest
	for _, req := range s.Requests {
		if req.OwnerID != nil && *req.OwnerID == ownerID {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *MemoryRequestRepo) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	expected []models.AccessRequestStatusType,
	to models.AccessRequestStatusType,
	fields repositories.StatusFields,
) (*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.Requests[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	matched := false
	for _, exp := range expected {
		if req.Status == exp {
			matched = true
			break
		}
	}
	if !matched {
		return nil, utils.ErrInvalidTransition
	}

	req.Status = to
	req.StatusMessage = fields.StatusMessage
	if fields.GracePeriodEnd != nil {
		req.GracePeriodEnd = fields.GracePeriodEnd
	}
	if fields.AccessExpiresAt != nil {
		req.AccessExpiresAt = fields.AccessExpiresAt
	}
	req.UpdatedAt = time.Now().UTC()
	return cloneRequest(req), nil
}

func (r *MemoryRequestRepo) ListGracePeriodExpired(ctx context.Context, now time.Time) ([]*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LegacyAccessRequest
	for _, req := range s.Requests {
		if req.Status == models.RequestStatusGracePeriod &&
			req.GracePeriodEnd != nil && req.GracePeriodEnd.Before(now) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *MemoryRequestRepo) ListGrantedExpired(ctx context.Context, now time.Time) ([]*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LegacyAccessRequest
	for _, req := range s.Requests {
		if req.Status == models.RequestStatusGranted &&
			req.AccessExpiresAt != nil && req.AccessExpiresAt.Before(now) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *MemoryRequestRepo) ListGrantedWithoutToken(ctx context.Context) ([]*models.LegacyAccessRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LegacyAccessRequest
	for _, req := range s.Requests {
		if req.Status == models.RequestStatusGranted && s.Tokens[req.ID] == nil {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

/* ------------------------------------------------------------------
   TrusteeConfirmationRepository
------------------------------------------------------------------ */

type MemoryConfirmationRepo struct {
	store *MemoryStore
}

func NewMemoryConfirmationRepo(store *MemoryStore) *MemoryConfirmationRepo {
	return &MemoryConfirmationRepo{store: store}
}

func (r *MemoryConfirmationRepo) FanOut(
	ctx context.Context,
	requestID uuid.UUID,
	trustees []*models.Trustee,
) ([]*models.TrusteeConfirmation, error) {
	if len(trustees) == 0 {
		return nil, utils.ErrNoTrustees
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.TrusteeConfirmation, 0, len(trustees))
	for _, t := range trustees {
		c := &models.TrusteeConfirmation{
			ID:        uuid.New(),
			RequestID: requestID,
			TrusteeID: t.ID,
			Token:     utils.RandomSecureToken(constants.ConfirmTokenBytes),
			Action:    models.ConfirmationUnconfirmed,
			CreatedAt: time.Now().UTC(),
		}
		s.Confirmations[c.ID] = c
		out = append(out, cloneConfirmation(c))
	}
	return out, nil
}

func (r *MemoryConfirmationRepo) GetByToken(ctx context.Context, token string) (*models.TrusteeConfirmation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r.byTokenLocked(token)
	if c == nil {
		return nil, utils.ErrInvalidOrUsedToken
	}
	return cloneConfirmation(c), nil
}

func (r *MemoryConfirmationRepo) byTokenLocked(token string) *models.TrusteeConfirmation {
	for _, c := range r.store.Confirmations {
		if c.Token == token {
			return c
		}
	}
	return nil
}

func (r *MemoryConfirmationRepo) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*models.TrusteeConfirmation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TrusteeConfirmation
	for _, c := range s.Confirmations {
		if c.RequestID == requestID {
			out = append(out, cloneConfirmation(c))
		}
	}
	return out, nil
}

func (r *MemoryConfirmationRepo) Tally(ctx context.Context, requestID uuid.UUID) (models.ConfirmationTally, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.tallyLocked(requestID), nil
}

func (r *MemoryConfirmationRepo) tallyLocked(requestID uuid.UUID) models.ConfirmationTally {
	var t models.ConfirmationTally
	for _, c := range r.store.Confirmations {
		if c.RequestID != requestID {
			continue
		}
		t.Total++
		switch c.Action {
		case models.ConfirmationConfirmed:
			t.Confirmed++
		case models.ConfirmationDenied:
			t.Denied++
		}
	}
	return t
}

func (r *MemoryConfirmationRepo) RespondAndTally(
	ctx context.Context,
	token string,
	action models.ConfirmationActionType,
	notes *string,
	decide repositories.RespondDecisionFunc,
) (*repositories.RespondOutcome, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	conf := r.byTokenLocked(token)
	if conf == nil {
		return nil, utils.ErrInvalidOrUsedToken
	}

	if conf.RespondedAt != nil {
		if conf.Action != action {
			return nil, utils.ErrInvalidOrUsedToken
		}
		req, ok := s.Requests[conf.RequestID]
		if !ok {
			return nil, utils.ErrNotFound
		}
		return &repositories.RespondOutcome{
			Confirmation: cloneConfirmation(conf),
			Request:      cloneRequest(req),
			Tally:        r.tallyLocked(conf.RequestID),
			Replayed:     true,
		}, nil
	}

	now := time.Now().UTC()
	conf.Action = action
	conf.Notes = notes
	conf.RespondedAt = &now

	req, ok := s.Requests[conf.RequestID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	tally := r.tallyLocked(conf.RequestID)

	outcome := &repositories.RespondOutcome{
		Confirmation: cloneConfirmation(conf),
		Request:      cloneRequest(req),
		Tally:        tally,
	}

	verdict := decide(cloneRequest(req), tally)
	if verdict == nil {
		return outcome, nil
	}
	if !models.CanTransition(req.Status, verdict.NewStatus) {
		return nil, utils.ErrInvalidTransition
	}

	req.Status = verdict.NewStatus
	req.StatusMessage = verdict.StatusMessage
	if verdict.GracePeriodEnd != nil {
		req.GracePeriodEnd = verdict.GracePeriodEnd
	}
	req.UpdatedAt = now

	outcome.Request = cloneRequest(req)
	outcome.Transitioned = true
	return outcome, nil
}

/* ------------------------------------------------------------------
   Trustee / Owner repositories
------------------------------------------------------------------ */

type MemoryTrusteeRepo struct {
	store *MemoryStore
}

func NewMemoryTrusteeRepo(store *MemoryStore) *MemoryTrusteeRepo {
	return &MemoryTrusteeRepo{store: store}
}

func (r *MemoryTrusteeRepo) ListVerifiedByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Trustee, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Trustee
	for _, t := range s.Trustees {
		if t.OwnerID == ownerID && t.Verified {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MemoryOwnerRepo struct {
	store *MemoryStore
}

func NewMemoryOwnerRepo(store *MemoryStore) *MemoryOwnerRepo {
	return &MemoryOwnerRepo{store: store}
}

func (r *MemoryOwnerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.Owners[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOwnerRepo) GetByEmail(ctx context.Context, email string) (*models.Owner, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.Owners {
		if strings.EqualFold(o.Email, email) {
			cp := *o
			return &cp, nil
		}
	}
	// No-match reads as (nil, nil), same as the SQL implementation.
	return nil, nil
}

/* ------------------------------------------------------------------
   AccessTokenRepository
------------------------------------------------------------------ */

type MemoryTokenRepo struct {
	store *MemoryStore
}

func NewMemoryTokenRepo(store *MemoryStore) *MemoryTokenRepo {
	return &MemoryTokenRepo{store: store}
}

func (r *MemoryTokenRepo) CreateIfAbsent(ctx context.Context, tok *models.AccessToken) (*models.AccessToken, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.Tokens[tok.RequestID]; ok {
		return cloneToken(existing), nil
	}
	cp := cloneToken(tok)
	cp.CreatedAt = time.Now().UTC()
	s.Tokens[cp.RequestID] = cp
	return cloneToken(cp), nil
}

func (r *MemoryTokenRepo) GetByValue(ctx context.Context, value string) (*models.AccessToken, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Tokens {
		if t.Value == value {
			return cloneToken(t), nil
		}
	}
	return nil, utils.ErrTokenNotFound
}

func (r *MemoryTokenRepo) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*models.AccessToken, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Tokens[requestID]
	if !ok {
		return nil, utils.ErrTokenNotFound
	}
	return cloneToken(t), nil
}

func (r *MemoryTokenRepo) Revoke(ctx context.Context, requestID uuid.UUID) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Tokens[requestID]
	if !ok {
		return nil
	}
	t.Revoked = true
	if t.RevokedAt == nil {
		now := time.Now().UTC()
		t.RevokedAt = &now
	}
	return nil
}

/* ------------------------------------------------------------------
   VaultItemRepository
------------------------------------------------------------------ */

type MemoryVaultRepo struct {
	store *MemoryStore
}

func NewMemoryVaultRepo(store *MemoryStore) *MemoryVaultRepo {
	return &MemoryVaultRepo{store: store}
}

func (r *MemoryVaultRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.VaultItem, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.VaultItems[ownerID]
	out := make([]*models.VaultItem, 0, len(items))
	for _, it := range items {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}
