package domain

// SpendPolicy — пользовательская конфигурация кредита и лимитов агента.
// Лимит 0 у PerTransaction/PerDay/PerMonth означает «без ограничения».
type SpendPolicy struct {
	UserID          string `json:"user_id"`
	CreditLimit     Money  `json:"credit_limit"`
	OutstandingDebt Money  `json:"outstanding_debt"`
	AgentSpendLimit Money  `json:"agent_spend_limit"`

	PerTransaction Money `json:"per_transaction"`
	PerDay         Money `json:"per_day"`
	PerMonth       Money `json:"per_month"`
}

// AvailableCredit = credit_limit − outstanding_debt, никогда не отрицательный.
func (p SpendPolicy) AvailableCredit() Money {
	v := p.CreditLimit.Minor - p.OutstandingDebt.Minor
	if v < 0 {
		v = 0
	}
	return Money{Minor: v, Currency: p.CreditLimit.Currency}
}

// SpendLimits — частичное обновление лимитов из операторского API.
type SpendLimits struct {
	AgentSpendLimit *Money `json:"agent_spend_limit,omitempty"`
	PerTransaction  *Money `json:"per_transaction,omitempty"`
	PerDay          *Money `json:"per_day,omitempty"`
	PerMonth        *Money `json:"per_month,omitempty"`
	CreditLimit     *Money `json:"credit_limit,omitempty"`
}

// Apply применяет непустые поля к политике.
func (l SpendLimits) Apply(p SpendPolicy) SpendPolicy {
	if l.AgentSpendLimit != nil {
		p.AgentSpendLimit = *l.AgentSpendLimit
	}
	if l.PerTransaction != nil {
		p.PerTransaction = *l.PerTransaction
	}
	if l.PerDay != nil {
		p.PerDay = *l.PerDay
	}
	if l.PerMonth != nil {
		p.PerMonth = *l.PerMonth
	}
	if l.CreditLimit != nil {
		p.CreditLimit = *l.CreditLimit
	}
	return p
}

// CreditLine — состояние кредитной линии в леджере (источник правды по долгу).
type CreditLine struct {
	BorrowerID  string `json:"borrower_id"`
	Limit       Money  `json:"credit_limit"`
	Outstanding Money  `json:"outstanding_debt"`
	Authorized  Money  `json:"spend_authorization"`
}

func (c CreditLine) Available() Money {
	v := c.Limit.Minor - c.Outstanding.Minor
	if v < 0 {
		v = 0
	}
	return Money{Minor: v, Currency: c.Limit.Currency}
}
