// Package approval — конечный автомат step-up подтверждения платежа.
package approval

import (
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

// Analyzer решает, нужно ли подтверждение пользователя для платежа.
type Analyzer struct {
	freshness time.Duration // насколько аттестация может быть старше мандата
	logger    *zap.Logger
	now       func() time.Time
}

func NewAnalyzer(freshness time.Duration, logger *zap.Logger) *Analyzer {
	if freshness <= 0 {
		freshness = DefaultTTL
	}
	return &Analyzer{freshness: freshness, logger: logger.Named("analyzer"), now: time.Now}
}

// StepUpRequired: подтверждение не нужно, если сумма в пределах agent_spend_limit
// или мандат уже несет валидную аттестацию. Агент в карантине подтверждает всегда.
func (a *Analyzer) StepUpRequired(amount domain.Money, p domain.SpendPolicy, att *domain.Attestation, mandateAt time.Time, quarantined bool) bool {
	// 1. Карантин перекрывает любые лимиты
	if quarantined && !a.ValidAttestation(att, mandateAt) {
		a.logger.Warn("step-up forced by quarantine", zap.String("amount", amount.String()))
		return true
	}

	// 2. Мелкие покупки агент делает сам
	if amount.Cmp(p.AgentSpendLimit) <= 0 && !quarantined {
		return false
	}

	// 3. Подтверждение уже получено на стороне агента
	if a.ValidAttestation(att, mandateAt) {
		return false
	}

	a.logger.Info("step-up approval required",
		zap.String("amount", amount.String()),
		zap.String("agent_spend_limit", p.AgentSpendLimit.String()),
	)
	return true
}

// ValidAttestation — запись полная, подписана не раньше окна свежести и не из будущего.
func (a *Analyzer) ValidAttestation(att *domain.Attestation, mandateAt time.Time) bool {
	if att.WellFormed() != nil {
		return false
	}
	return att.InWindow(mandateAt.Add(-a.freshness), a.now())
}
