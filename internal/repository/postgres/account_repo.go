package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/agentpay/internal/credential"
	"github.com/xela07ax/agentpay/internal/domain"
)

// AccountRepo — профили пользователей и их лимиты трат.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Account реализует credential.AccountDirectory.
func (r *AccountRepo) Account(ctx context.Context, userID string) (*domain.Account, error) {
	query := `
		SELECT user_id, email, borrower_id, kyc_verified, device_id, methods
		FROM accounts WHERE user_id = $1`

	var (
		a       domain.Account
		device  sql.NullString
		methods []byte
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&a.UserID, &a.Email, &a.BorrowerID, &a.KYCVerified, &device, &methods,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUnknownAccount.With("user %s", userID)
		}
		return nil, fmt.Errorf("postgres: failed to get account: %w", err)
	}
	a.DeviceID = device.String
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &a.Methods); err != nil {
			return nil, fmt.Errorf("postgres: decode methods: %w", err)
		}
	}
	return &a, nil
}

// Register создает или обновляет профиль. Без устройства аккаунт не принимается.
func (r *AccountRepo) Register(ctx context.Context, a domain.Account) error {
	if err := credential.ValidateAccount(&a); err != nil {
		return err
	}
	methods, err := json.Marshal(a.Methods)
	if err != nil {
		return fmt.Errorf("postgres: marshal methods: %w", err)
	}
	query := `
		INSERT INTO accounts (user_id, email, borrower_id, kyc_verified, device_id, methods)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			borrower_id = EXCLUDED.borrower_id,
			kyc_verified = EXCLUDED.kyc_verified,
			device_id = EXCLUDED.device_id,
			methods = EXCLUDED.methods`

	if _, err := r.db.ExecContext(ctx, query, a.UserID, a.Email, a.BorrowerID, a.KYCVerified, a.DeviceID, methods); err != nil {
		return fmt.Errorf("postgres: failed to register account: %w", err)
	}
	return nil
}

const policyColumns = `user_id, currency, credit_limit, outstanding_debt, agent_spend_limit, per_transaction, per_day, per_month`

// GetAllSpendPolicies выполняет «холодную загрузку» лимитов при старте.
func (r *AccountRepo) GetAllSpendPolicies(ctx context.Context) ([]domain.SpendPolicy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM spend_policies`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query spend policies: %w", err)
	}
	defer rows.Close()

	var results []domain.SpendPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// GetSpendPolicy возвращает nil, если персональной настройки нет.
func (r *AccountRepo) GetSpendPolicy(ctx context.Context, userID string) (*domain.SpendPolicy, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM spend_policies WHERE user_id = $1`, userID)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *AccountRepo) SaveSpendPolicy(ctx context.Context, p domain.SpendPolicy) error {
	query := `
		INSERT INTO spend_policies (` + policyColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			currency = EXCLUDED.currency,
			credit_limit = EXCLUDED.credit_limit,
			outstanding_debt = EXCLUDED.outstanding_debt,
			agent_spend_limit = EXCLUDED.agent_spend_limit,
			per_transaction = EXCLUDED.per_transaction,
			per_day = EXCLUDED.per_day,
			per_month = EXCLUDED.per_month,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		p.UserID, policyCurrency(p), p.CreditLimit.Minor, p.OutstandingDebt.Minor,
		p.AgentSpendLimit.Minor, p.PerTransaction.Minor, p.PerDay.Minor, p.PerMonth.Minor,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save spend policy: %w", err)
	}
	return nil
}

func scanPolicy(s scanner) (domain.SpendPolicy, error) {
	var (
		p                                       domain.SpendPolicy
		cur                                     string
		limit, debt, agent, perTx, perDay, perM int64
	)
	if err := s.Scan(&p.UserID, &cur, &limit, &debt, &agent, &perTx, &perDay, &perM); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("postgres: failed to scan spend policy: %w", err)
	}
	p.CreditLimit = domain.NewMoney(limit, cur)
	p.OutstandingDebt = domain.NewMoney(debt, cur)
	p.AgentSpendLimit = domain.NewMoney(agent, cur)
	p.PerTransaction = domain.NewMoney(perTx, cur)
	p.PerDay = domain.NewMoney(perDay, cur)
	p.PerMonth = domain.NewMoney(perM, cur)
	return p, nil
}

// policyCurrency — валюта политики: первая непустая из сумм.
func policyCurrency(p domain.SpendPolicy) string {
	for _, m := range []domain.Money{p.CreditLimit, p.AgentSpendLimit, p.PerTransaction, p.PerDay, p.PerMonth} {
		if m.Currency != "" {
			return m.Currency
		}
	}
	return "USD"
}
