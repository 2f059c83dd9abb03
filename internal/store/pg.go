package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/procurehub/approvald/internal/models"
	"github.com/shopspring/decimal"
)

// PGStore persists orders, tokens, and the approver directory in Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `id, plant, amount, requester_email, required_approval_level, current_approval_level, status, created_at, updated_at`

type orderScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row orderScanner) (models.Order, error) {
	var (
		o      models.Order
		plant  sql.NullString
		amount string
	)
	err := row.Scan(
		&o.ID,
		&plant,
		&amount,
		&o.RequesterEmail,
		&o.RequiredApprovalLevel,
		&o.CurrentApprovalLevel,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return models.Order{}, err
	}
	if plant.Valid {
		o.Plant = &plant.String
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Order{}, fmt.Errorf("parse order amount: %w", err)
	}
	o.Amount = amt
	return o, nil
}

func (s *PGStore) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	return o, err
}

// ApplyDecision implements the one atomic unit of work per order: a row lock
// via SELECT ... FOR UPDATE, the pure decision on the re-read state, the order
// update, and single-use token consumption, committed together.
func (s *PGStore) ApplyDecision(ctx context.Context, orderID int64, consumeToken string, decide DecideFunc) (models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, fmt.Errorf("begin decision tx: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	order, err := scanOrder(tx.QueryRowContext(ctx, lockQuery, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("lock order %d: %w", orderID, err)
	}

	next, err := decide(order)
	if err != nil {
		return models.Order{}, err
	}

	updateQuery := `
		UPDATE orders
		SET current_approval_level = $2,
		    status                 = $3,
		    updated_at             = NOW()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, updateQuery, orderID, next.CurrentApprovalLevel, next.Status); err != nil {
		return models.Order{}, fmt.Errorf("update order %d: %w", orderID, err)
	}

	if consumeToken != "" {
		// is_used = FALSE in the predicate is the replay guard: a racing
		// request that got here first wins and this one rolls back.
		consume := `UPDATE action_tokens SET is_used = TRUE, used_at = NOW() WHERE token = $1 AND is_used = FALSE`
		res, err := tx.ExecContext(ctx, consume, consumeToken)
		if err != nil {
			return models.Order{}, fmt.Errorf("consume token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.Order{}, fmt.Errorf("consume token rows: %w", err)
		}
		if n != 1 {
			return models.Order{}, ErrTokenSpent
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Order{}, fmt.Errorf("commit decision tx: %w", err)
	}
	return next, nil
}

func (s *PGStore) CreateActionToken(ctx context.Context, t models.ActionToken) error {
	query := `
		INSERT INTO action_tokens (token, order_id, user_id, action, created_at, is_used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, t.Token, t.OrderID, t.UserID, t.Action, createdAt); err != nil {
		return fmt.Errorf("insert action token: %w", err)
	}
	return nil
}

func (s *PGStore) GetActionToken(ctx context.Context, token string) (models.ActionToken, error) {
	query := `
		SELECT token, order_id, user_id, action, created_at, is_used, used_at
		FROM action_tokens
		WHERE token = $1
	`
	var (
		t      models.ActionToken
		usedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&t.Token,
		&t.OrderID,
		&t.UserID,
		&t.Action,
		&t.CreatedAt,
		&t.IsUsed,
		&usedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActionToken{}, ErrNotFound
	}
	if err != nil {
		return models.ActionToken{}, fmt.Errorf("select action token: %w", err)
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return t, nil
}

func (s *PGStore) CreateBulkActionToken(ctx context.Context, t models.BulkActionToken) error {
	if err := t.OrderIDs.Validate(); err != nil {
		return err
	}
	ids, err := json.Marshal(t.OrderIDs)
	if err != nil {
		return fmt.Errorf("marshal order ids: %w", err)
	}
	query := `
		INSERT INTO bulk_action_tokens (token, order_ids, user_id, action, created_at, is_used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, t.Token, ids, t.UserID, t.Action, createdAt); err != nil {
		return fmt.Errorf("insert bulk action token: %w", err)
	}
	return nil
}

func (s *PGStore) GetBulkActionToken(ctx context.Context, token string) (models.BulkActionToken, error) {
	query := `
		SELECT token, order_ids, user_id, action, created_at, is_used, used_at
		FROM bulk_action_tokens
		WHERE token = $1
	`
	var (
		t      models.BulkActionToken
		ids    []byte
		usedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&t.Token,
		&ids,
		&t.UserID,
		&t.Action,
		&t.CreatedAt,
		&t.IsUsed,
		&usedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BulkActionToken{}, ErrNotFound
	}
	if err != nil {
		return models.BulkActionToken{}, fmt.Errorf("select bulk action token: %w", err)
	}
	if err := json.Unmarshal(ids, &t.OrderIDs); err != nil {
		return models.BulkActionToken{}, fmt.Errorf("decode bulk token %s: %w", token, err)
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return t, nil
}

func (s *PGStore) MarkBulkTokenUsed(ctx context.Context, token string) error {
	query := `UPDATE bulk_action_tokens SET is_used = TRUE, used_at = NOW() WHERE token = $1 AND is_used = FALSE`
	res, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("mark bulk token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark bulk token rows: %w", err)
	}
	if n != 1 {
		return ErrTokenSpent
	}
	return nil
}

func (s *PGStore) GetApprover(ctx context.Context, id int64) (models.Approver, error) {
	query := `SELECT id, name, email, authorization_level, plant FROM approvers WHERE id = $1`
	a, err := scanApprover(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Approver{}, ErrNotFound
	}
	return a, err
}

func scanApprover(row orderScanner) (models.Approver, error) {
	var (
		a     models.Approver
		plant sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.AuthorizationLevel, &plant); err != nil {
		return models.Approver{}, err
	}
	if plant.Valid {
		a.Plant = &plant.String
	}
	return a, nil
}

func (s *PGStore) FindApproversByTier(ctx context.Context, tier int, plant *string) ([]models.Approver, error) {
	// Same-plant rows sort first (plant IS NULL is false for them), id breaks
	// ties so the ordering is reproducible across runs.
	var (
		rows *sql.Rows
		err  error
	)
	if plant != nil {
		query := `
			SELECT id, name, email, authorization_level, plant
			FROM approvers
			WHERE authorization_level = $1 AND (plant = $2 OR plant IS NULL)
			ORDER BY plant IS NULL, id
		`
		rows, err = s.db.QueryContext(ctx, query, tier, *plant)
	} else {
		query := `
			SELECT id, name, email, authorization_level, plant
			FROM approvers
			WHERE authorization_level = $1 AND plant IS NULL
			ORDER BY id
		`
		rows, err = s.db.QueryContext(ctx, query, tier)
	}
	if err != nil {
		return nil, fmt.Errorf("query approvers: %w", err)
	}
	defer rows.Close()

	var out []models.Approver
	for rows.Next() {
		a, err := scanApprover(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approver rows err: %w", err)
	}
	return out, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
