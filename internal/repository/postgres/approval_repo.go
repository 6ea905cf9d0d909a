package postgres

/*
Файл approval_repo.go — хранение запросов на step-up подтверждение.
Переход из PENDING_APPROVAL выполняется условным UPDATE, повторное решение по заявке невозможно.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/agentpay/internal/domain"
)

const approvalColumns = `id, mandate_id, user_id, agent_id, borrower_id, merchant_id, device_id, amount_minor, currency,
	plan, status, attestation, reason, created_at, expires_at, updated_at`

type ApprovalRepo struct {
	db *sql.DB
}

func NewApprovalRepo(db *sql.DB) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

// Create сохраняет новую заявку. Одна заявка на mandate_id (уникальный индекс).
func (r *ApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	plan, err := json.Marshal(req.Plan)
	if err != nil {
		return fmt.Errorf("postgres: marshal plan: %w", err)
	}
	query := `INSERT INTO approvals (` + approvalColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $13, $14, $15)`
	_, err = r.db.ExecContext(ctx, query,
		req.ID, req.MandateID, req.UserID, req.AgentID, req.BorrowerID, req.MerchantID, req.DeviceID,
		req.Amount.Minor, req.Amount.Currency, plan, req.Status, req.Reason,
		req.CreatedAt, req.ExpiresAt, req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrApprovalTerminal.With("approval for mandate %s already exists", req.MandateID)
		}
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
	app, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrApprovalNotFound.With("approval %s", id)
	}
	return app, err
}

func (r *ApprovalRepo) ByMandate(ctx context.Context, mandateID string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE mandate_id = $1`, mandateID)
	app, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrApprovalNotFound.With("no approval for mandate %s", mandateID)
	}
	return app, err
}

// Update атомарно фиксирует решение. Условие WHERE status = 'PENDING_APPROVAL'
// исключает Double Decision даже без внешней блокировки.
func (r *ApprovalRepo) Update(ctx context.Context, req *domain.ApprovalRequest) error {
	var att []byte
	if req.Attestation != nil {
		var err error
		if att, err = json.Marshal(req.Attestation); err != nil {
			return fmt.Errorf("postgres: marshal attestation: %w", err)
		}
	}
	query := `
		UPDATE approvals
		SET status = $1,
		    attestation = $2,
		    reason = $3,
		    updated_at = $4
		WHERE id = $5 AND status = 'PENDING_APPROVAL'`

	res, err := r.db.ExecContext(ctx, query, req.Status, att, req.Reason, req.UpdatedAt, req.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update approval status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if rows == 0 {
		// Либо ID неверный, либо решение уже принято
		return domain.ErrApprovalTerminal.With("approval %s not found or already processed", req.ID)
	}
	return nil
}

// ListByStatus — очередь решений (Decision Queue). Пустой статус — все заявки.
func (r *ApprovalRepo) ListByStatus(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)
	for rows.Next() {
		app, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(s scanner) (*domain.ApprovalRequest, error) {
	var (
		app      domain.ApprovalRequest
		minor    int64
		currency string
		plan     []byte
		att      []byte
		reason   sql.NullString
	)
	err := s.Scan(
		&app.ID, &app.MandateID, &app.UserID, &app.AgentID, &app.BorrowerID, &app.MerchantID, &app.DeviceID,
		&minor, &currency, &plan, &app.Status, &att, &reason,
		&app.CreatedAt, &app.ExpiresAt, &app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
	}
	app.Amount = domain.NewMoney(minor, currency)
	if len(plan) > 0 {
		if err := json.Unmarshal(plan, &app.Plan); err != nil {
			return nil, fmt.Errorf("postgres: decode plan: %w", err)
		}
	}
	if len(att) > 0 {
		app.Attestation = &domain.Attestation{}
		if err := json.Unmarshal(att, app.Attestation); err != nil {
			return nil, fmt.Errorf("postgres: decode attestation: %w", err)
		}
	}
	if reason.Valid {
		app.Reason = reason.String
	}
	return &app, nil
}
