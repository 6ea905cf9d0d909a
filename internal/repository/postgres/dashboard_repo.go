package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type AgentCounts struct {
	Active     int64 `json:"active"`
	Blocked    int64 `json:"blocked"`
	Quarantine int64 `json:"quarantine"`
	Sandbox    int64 `json:"sandbox"`
}

type SettlementCounts struct {
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	SettledMinor int64 `json:"settled_minor"`
}

// Dashboard — сводка для операторов: агенты, очередь подтверждений, расчеты за последний час.
type Dashboard struct {
	Agents           AgentCounts      `json:"agents"`
	PendingApprovals int64            `json:"pending_approvals"`
	LastHour         SettlementCounts `json:"last_hour"`
}

type DashboardRepo struct {
	db *sql.DB
}

func NewDashboardRepo(db *sql.DB) *DashboardRepo {
	return &DashboardRepo{db: db}
}

func (r *DashboardRepo) Summary(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{}

	// 1. Агенты по статусам
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'blocked'),
			COUNT(*) FILTER (WHERE status = 'quarantine'),
			COUNT(*) FILTER (WHERE status = 'sandbox')
		FROM agents`).Scan(&d.Agents.Active, &d.Agents.Blocked, &d.Agents.Quarantine, &d.Agents.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("postgres: agents summary: %w", err)
	}

	// 2. Очередь step-up подтверждений
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE status = 'PENDING_APPROVAL'`).Scan(&d.PendingApprovals)
	if err != nil {
		return nil, fmt.Errorf("postgres: approvals summary: %w", err)
	}

	// 3. Расчеты из журнала событий за последние 60 минут
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'payment.completed'),
			COUNT(*) FILTER (WHERE type = 'payment.failed'),
			COALESCE(SUM(amount_minor) FILTER (WHERE type = 'payment.completed'), 0)
		FROM payment_events
		WHERE timestamp > NOW() - INTERVAL '60 minutes'`).Scan(
		&d.LastHour.Completed, &d.LastHour.Failed, &d.LastHour.SettledMinor,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: events summary: %w", err)
	}
	return d, nil
}
