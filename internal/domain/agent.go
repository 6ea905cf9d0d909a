package domain

// AgentStatus — режим агента, от имени которого пришел мандат.
type AgentStatus string

const (
	AgentActive     AgentStatus = "active"     // Полный доступ
	AgentBlocked    AgentStatus = "blocked"    // Kill-switch: платежи запрещены
	AgentQuarantine AgentStatus = "quarantine" // Любая покупка требует step-up
	AgentSandbox    AgentStatus = "sandbox"    // Расчет без реального списания
)
