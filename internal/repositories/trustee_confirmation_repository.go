package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/everkeep/legacy-access-service/internal/constants"
	"github.com/everkeep/legacy-access-service/internal/models"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

/* ------------------------------------------------------------------
   Public interface
------------------------------------------------------------------ */

// TransitionVerdict is the state machine's decision for a request after a
// trustee response has been counted. A nil verdict means "record the ballot,
// move nothing".
type TransitionVerdict struct {
	NewStatus      models.AccessRequestStatusType
	StatusMessage  string
	GracePeriodEnd *time.Time
}

// RespondDecisionFunc runs inside the respond transaction, with both the
// confirmation row and the request row locked. It must be pure: no I/O, no
// notification calls, just quorum arithmetic against the transition table.
type RespondDecisionFunc func(
	req *models.LegacyAccessRequest,
	tally models.ConfirmationTally,
) *TransitionVerdict

// RespondOutcome is what recording one trustee response produced.
type RespondOutcome struct {
	Confirmation *models.TrusteeConfirmation
	Request      *models.LegacyAccessRequest
	Tally        models.ConfirmationTally

	// Transitioned is true when the decide callback moved the request.
	Transitioned bool
	// Replayed is true when the token had already been used with the same
	// action; the prior outcome is returned unchanged.
	Replayed bool
}

type TrusteeConfirmationRepository interface {
	// FanOut creates one UNCONFIRMED row per trustee. The number of rows
	// created here is the quorum denominator for the life of the request.
	FanOut(ctx context.Context, requestID uuid.UUID, trustees []*models.Trustee) ([]*models.TrusteeConfirmation, error)

	GetByToken(ctx context.Context, token string) (*models.TrusteeConfirmation, error)
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*models.TrusteeConfirmation, error)
	Tally(ctx context.Context, requestID uuid.UUID) (models.ConfirmationTally, error)

	// RespondAndTally records a trustee's ballot and re-evaluates the request
	// in one transaction: lock the confirmation by token, reject used tokens
	// (same action replays return the prior outcome), write the response,
	// lock the parent request, tally, and apply the decide callback's
	// verdict. Two trustees responding simultaneously serialize on the
	// request row lock, so both see an up-to-date tally and the quorum
	// transition cannot be lost.
	RespondAndTally(
		ctx context.Context,
		token string,
		action models.ConfirmationActionType,
		notes *string,
		decide RespondDecisionFunc,
	) (*RespondOutcome, error)
}

/* ------------------------------------------------------------------
   Implementation
------------------------------------------------------------------ */

type trusteeConfirmationRepo struct {
	db DB
}

func NewTrusteeConfirmationRepository(db DB) TrusteeConfirmationRepository {
	return &trusteeConfirmationRepo{db: db}
}

func baseSelectConfirmation() string {
	return `
        SELECT id, request_id, trustee_id, token, action, notes, responded_at, created_at
        FROM trustee_confirmations
    `
}

func scanConfirmation(row pgx.Row) (*models.TrusteeConfirmation, error) {
	var c models.TrusteeConfirmation
	err := row.Scan(
		&c.ID,
		&c.RequestID,
		&c.TrusteeID,
		&c.Token,
		&c.Action,
		&c.Notes,
		&c.RespondedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *trusteeConfirmationRepo) FanOut(
	ctx context.Context,
	requestID uuid.UUID,
	trustees []*models.Trustee,
) ([]*models.TrusteeConfirmation, error) {
	if len(trustees) == 0 {
		return nil, utils.ErrNoTrustees
	}

	out := make([]*models.TrusteeConfirmation, 0, len(trustees))
	for _, t := range trustees {
		c := &models.TrusteeConfirmation{
			ID:        uuid.New(),
			RequestID: requestID,
			TrusteeID: t.ID,
			Token:     utils.RandomSecureToken(constants.ConfirmTokenBytes),
			Action:    models.ConfirmationUnconfirmed,
		}
		_, err := r.db.Exec(ctx, `
            INSERT INTO trustee_confirmations
                (id, request_id, trustee_id, token, action, created_at)
            VALUES ($1,$2,$3,$4,$5,NOW())
        `, c.ID, c.RequestID, c.TrusteeID, c.Token, c.Action)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *trusteeConfirmationRepo) GetByToken(ctx context.Context, token string) (*models.TrusteeConfirmation, error) {
	row := r.db.QueryRow(ctx, baseSelectConfirmation()+" WHERE token=$1", token)
	c, err := scanConfirmation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, utils.ErrInvalidOrUsedToken
	}
	return c, err
}

func (r *trusteeConfirmationRepo) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*models.TrusteeConfirmation, error) {
	rows, err := r.db.Query(ctx, baseSelectConfirmation()+`
        WHERE request_id=$1 ORDER BY created_at
    `, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TrusteeConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *trusteeConfirmationRepo) Tally(ctx context.Context, requestID uuid.UUID) (models.ConfirmationTally, error) {
	var t models.ConfirmationTally
	err := r.db.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE action = $2),
            COUNT(*) FILTER (WHERE action = $3),
            COUNT(*)
        FROM trustee_confirmations
        WHERE request_id = $1
    `, requestID, models.ConfirmationConfirmed, models.ConfirmationDenied).
		Scan(&t.Confirmed, &t.Denied, &t.Total)
	return t, err
}

func (r *trusteeConfirmationRepo) RespondAndTally(
	ctx context.Context,
	token string,
	action models.ConfirmationActionType,
	notes *string,
	decide RespondDecisionFunc,
) (*RespondOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	row := tx.QueryRow(ctx, baseSelectConfirmation()+" WHERE token=$1 FOR UPDATE", token)
	conf, err := scanConfirmation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = utils.ErrInvalidOrUsedToken
		}
		return nil, err
	}

	// Single-use invariant: a used token is only answered with its prior
	// outcome (idempotent replay), never re-counted; a conflicting action
	// on a used token is rejected outright.
	if conf.RespondedAt != nil {
		if conf.Action != action {
			err = utils.ErrInvalidOrUsedToken
			return nil, err
		}
		req, tErr := r.lockRequest(ctx, tx, conf.RequestID)
		if tErr != nil {
			err = tErr
			return nil, err
		}
		tally, tErr := r.tallyTx(ctx, tx, conf.RequestID)
		if tErr != nil {
			err = tErr
			return nil, err
		}
		return &RespondOutcome{Confirmation: conf, Request: req, Tally: tally, Replayed: true}, nil
	}

	_, err = tx.Exec(ctx, `
        UPDATE trustee_confirmations
        SET action=$1, notes=$2, responded_at=NOW()
        WHERE id=$3
    `, action, notes, conf.ID)
	if err != nil {
		return nil, err
	}
	conf.Action = action
	conf.Notes = notes
	now := time.Now().UTC()
	conf.RespondedAt = &now

	req, err := r.lockRequest(ctx, tx, conf.RequestID)
	if err != nil {
		return nil, err
	}
	tally, err := r.tallyTx(ctx, tx, conf.RequestID)
	if err != nil {
		return nil, err
	}

	outcome := &RespondOutcome{Confirmation: conf, Request: req, Tally: tally}

	verdict := decide(req, tally)
	if verdict == nil {
		return outcome, nil
	}
	if !models.CanTransition(req.Status, verdict.NewStatus) {
		err = utils.ErrInvalidTransition
		return nil, err
	}

	_, err = tx.Exec(ctx, `
        UPDATE legacy_access_requests
        SET status           = $1,
            status_message   = $2,
            grace_period_end = COALESCE($3, grace_period_end),
            updated_at       = NOW()
        WHERE id = $4
    `, verdict.NewStatus, verdict.StatusMessage, verdict.GracePeriodEnd, req.ID)
	if err != nil {
		return nil, err
	}

	req.Status = verdict.NewStatus
	req.StatusMessage = verdict.StatusMessage
	if verdict.GracePeriodEnd != nil {
		req.GracePeriodEnd = verdict.GracePeriodEnd
	}
	outcome.Transitioned = true
	return outcome, nil
}

func (r *trusteeConfirmationRepo) lockRequest(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*models.LegacyAccessRequest, error) {
	row := tx.QueryRow(ctx, baseSelectRequest()+" WHERE id=$1 FOR UPDATE", requestID)
	return scanRequest(row)
}

func (r *trusteeConfirmationRepo) tallyTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (models.ConfirmationTally, error) {
	var t models.ConfirmationTally
	err := tx.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE action = $2),
            COUNT(*) FILTER (WHERE action = $3),
            COUNT(*)
        FROM trustee_confirmations
        WHERE request_id = $1
    `, requestID, models.ConfirmationConfirmed, models.ConfirmationDenied).
		Scan(&t.Confirmed, &t.Denied, &t.Total)
	return t, err
}
