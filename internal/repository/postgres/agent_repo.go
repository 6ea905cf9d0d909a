package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xela07ax/agentpay/internal/domain"
)

// AgentRepo хранит режимы агентов, от имени которых приходят мандаты.
type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

// UpdateStatus переводит агента в режим. Оператор может заблокировать агента,
// который еще не платил, поэтому запись создается при первом изменении.
func (r *AgentRepo) UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	const q = `
		INSERT INTO agents (id, status) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, q, id, status); err != nil {
		return fmt.Errorf("postgres: set agent %s %s: %w", id, status, err)
	}
	return nil
}

// IDsByStatus — ID агентов в режиме; из них AgentStateManager прогревает RAM и Redis.
func (r *AgentRepo) IDsByStatus(ctx context.Context, status domain.AgentStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM agents WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s agents: %w", status, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
