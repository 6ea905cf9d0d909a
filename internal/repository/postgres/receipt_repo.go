package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/agentpay/internal/domain"
)

// ReceiptRepo — квитанции расчетов. Одна на mandate_id, первая запись побеждает.
type ReceiptRepo struct {
	db *sql.DB
}

func NewReceiptRepo(db *sql.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

func (r *ReceiptRepo) Get(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error) {
	query := `
		SELECT payment_id, mandate_id, settlement_ref, borrower_id, merchant_id, amount_minor, currency,
		       plan_id, schedule, outstanding_minor, available_minor, mode, charged_back, created_at
		FROM receipts WHERE mandate_id = $1`

	var (
		rc          domain.PaymentReceipt
		amount      int64
		currency    string
		schedule    []byte
		outstanding int64
		available   int64
	)
	err := r.db.QueryRowContext(ctx, query, mandateID).Scan(
		&rc.PaymentID, &rc.MandateID, &rc.SettlementRef, &rc.BorrowerID, &rc.MerchantID,
		&amount, &currency, &rc.Plan, &schedule, &outstanding, &available,
		&rc.Mode, &rc.ChargedBack, &rc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrReceiptNotFound.With("mandate %s", mandateID)
		}
		return nil, fmt.Errorf("postgres: failed to get receipt: %w", err)
	}
	rc.Amount = domain.NewMoney(amount, currency)
	rc.OutstandingDebt = domain.NewMoney(outstanding, currency)
	rc.AvailableCredit = domain.NewMoney(available, currency)
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &rc.Schedule); err != nil {
			return nil, fmt.Errorf("postgres: decode schedule: %w", err)
		}
	}
	return &rc, nil
}

// Save не перезаписывает существующую квитанцию: ON CONFLICT DO NOTHING.
func (r *ReceiptRepo) Save(ctx context.Context, rc *domain.PaymentReceipt) error {
	schedule, err := json.Marshal(rc.Schedule)
	if err != nil {
		return fmt.Errorf("postgres: marshal schedule: %w", err)
	}
	query := `
		INSERT INTO receipts (payment_id, mandate_id, settlement_ref, borrower_id, merchant_id, amount_minor, currency,
		                      plan_id, schedule, outstanding_minor, available_minor, mode, charged_back, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (mandate_id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		rc.PaymentID, rc.MandateID, rc.SettlementRef, rc.BorrowerID, rc.MerchantID,
		rc.Amount.Minor, rc.Amount.Currency, rc.Plan, schedule,
		rc.OutstandingDebt.Minor, rc.AvailableCredit.Minor, rc.Mode, rc.ChargedBack, rc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save receipt: %w", err)
	}
	return nil
}

// MarkChargedBack помечает квитанцию один раз; повтор — ALREADY_CHARGED_BACK.
func (r *ReceiptRepo) MarkChargedBack(ctx context.Context, mandateID string) error {
	var charged bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE receipts SET charged_back = TRUE
		WHERE mandate_id = $1 AND charged_back = FALSE
		RETURNING charged_back`, mandateID).Scan(&charged)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: failed to mark chargeback: %w", err)
	}

	// Строка не обновилась: различаем «нет квитанции» и «уже возвращено»
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM receipts WHERE mandate_id = $1)`, mandateID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: failed to check receipt: %w", err)
	}
	if !exists {
		return domain.ErrReceiptNotFound.With("mandate %s", mandateID)
	}
	return domain.ErrAlreadyChargeback.With("mandate %s", mandateID)
}
