package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xela07ax/agentpay/internal/domain"
)

// EventRepo — журнал событий платежей (payment_events).
type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// WriteBatch вставляет пачку одним запросом. Повторная доставка события с тем же id игнорируется.
func (r *EventRepo) WriteBatch(ctx context.Context, events []domain.PaymentEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице payment_events
	const numFields = 12
	var sb strings.Builder
	vals := make([]any, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			e.ID, e.Type, e.TraceID, e.MandateID, e.ApprovalID, e.AgentID,
			e.Amount.Minor, e.Amount.Currency, e.Status, e.Code, e.ReceiptRef, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO payment_events (id, type, trace_id, mandate_id, approval_id, agent_id, amount_minor, currency, status, error_code, settlement_ref, timestamp) VALUES %s ON CONFLICT (id) DO NOTHING",
		sb.String(),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write events: %w", err)
	}
	return nil
}
