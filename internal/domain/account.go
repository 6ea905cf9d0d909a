package domain

import "strings"

// PaymentMethod — способ оплаты аккаунта (BNPL-план поверх кредитной линии).
type PaymentMethod struct {
	Type   string `json:"type"` // например "SOHO_CREDIT"
	Alias  string `json:"alias"`
	PlanID PlanID `json:"plan_id"`
}

// Account — профиль пользователя у провайдера кредита.
type Account struct {
	UserID      string          `json:"user_id"`
	Email       string          `json:"email"`
	BorrowerID  string          `json:"borrower_id"` // адрес заемщика в леджере
	KYCVerified bool            `json:"kyc_verified"`
	DeviceID    string          `json:"device_id"` // устройство для биометрии
	Methods     []PaymentMethod `json:"payment_methods"`
}

// MethodByAlias ищет способ оплаты без учета регистра.
func (a *Account) MethodByAlias(alias string) (PaymentMethod, bool) {
	for _, m := range a.Methods {
		if strings.EqualFold(m.Alias, alias) {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// Aliases возвращает алиасы способов, чей тип принимает мерчант.
func (a *Account) Aliases(accepted []string) []string {
	out := make([]string, 0, len(a.Methods))
	for _, m := range a.Methods {
		for _, t := range accepted {
			if strings.EqualFold(m.Type, t) {
				out = append(out, m.Alias)
				break
			}
		}
	}
	return out
}
