package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentpay"
)

// Ключи для Sets (состояние агентов)
const (
	RedisKeyBlockedAgents         = RedisNamespace + ":agents:blocked_set"
	RedisKeySandboxAgents         = RedisNamespace + ":agents:sandbox_set"
	RedisKeyQuarantineAgents      = RedisNamespace + ":agents:quarantine_set"
	RedisKeyLockBlocked           = RedisNamespace + ":lock:warmup:blocked"
	RedisKeyLockBlockedSandbox    = RedisNamespace + ":lock:warmup_sandbox:blocked"
	RedisKeyLockBlockedQuarantine = RedisNamespace + ":lock:warmup_quarantine:blocked"
)

// Префиксы динамических ключей
const (
	RedisKeyLockApproval   = RedisNamespace + ":lock:approval:"
	RedisKeyLockSettlement = RedisNamespace + ":lock:settlement:"
	RedisKeyTokenBinding   = RedisNamespace + ":tokens:binding:"
	RedisKeySpendCounter   = RedisNamespace + ":spend:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalPrompt — push-запрос биометрии на устройство пользователя.
	RedisChanApprovalPrompt = RedisNamespace + ":approvals:prompt"
	RedisChanPaymentEvents  = RedisNamespace + ":payments:events"
	RedisChanKillSwitch     = RedisNamespace + ":agents:kill-switch-signal"
	RedisChanSandbox        = RedisNamespace + ":agents:sandbox-signal"
	RedisChanQuarantine     = RedisNamespace + ":agents:quarantine-signal"
	RedisChanLimitsUpdate   = RedisNamespace + ":accounts:limits-update"
)

// SpendCounterKey — ключ счетчика трат пользователя за период ("d:2025-10-01", "m:2025-10").
func SpendCounterKey(userID, bucket string) string {
	return RedisKeySpendCounter + userID + ":" + bucket
}
