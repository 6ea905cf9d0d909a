package bnpl

import (
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
)

// Find выбирает план по идентификатору.
func Find(plans []domain.PaymentPlan, id domain.PlanID) (domain.PaymentPlan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return domain.PaymentPlan{}, false
}

// Check пересчитывает выбранный агентом план от суммы корзины и сверяет итоги.
// Агент не может подсунуть план с другой суммой или ставкой.
func (e *Engine) Check(selected domain.PaymentPlan, amount domain.Money, today time.Time) (domain.PaymentPlan, error) {
	plans, err := e.Quote(amount, today)
	if err != nil {
		return domain.PaymentPlan{}, err
	}
	want, ok := Find(plans, selected.ID)
	if !ok {
		return domain.PaymentPlan{}, domain.ErrPlanMismatch.With("unknown plan %q", selected.ID)
	}
	if selected.Total.Minor != want.Total.Minor || selected.Installments != want.Installments {
		return domain.PaymentPlan{}, domain.ErrPlanMismatch.With("plan %s: total %s/%d, expected %s/%d",
			selected.ID, selected.Total, selected.Installments, want.Total, want.Installments)
	}
	if len(selected.Schedule) > 0 && selected.ScheduleSum().Minor != selected.Total.Minor {
		return domain.PaymentPlan{}, domain.ErrPlanMismatch.With("plan %s schedule sums to %s, total %s",
			selected.ID, selected.ScheduleSum(), selected.Total)
	}
	return want, nil
}
