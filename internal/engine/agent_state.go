package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"go.uber.org/zap"
)

// AgentStatusProvider — источник статусов агентов (PostgreSQL).
type AgentStatusProvider interface {
	IDsByStatus(ctx context.Context, status domain.AgentStatus) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status domain.AgentStatus) error
}

// stateSet — один режим агентов: L1 (RAM) + ключи L2 (Redis) + канал сигналов.
type stateSet struct {
	status  domain.AgentStatus
	setKey  string
	lockKey string
	channel string

	mu     sync.RWMutex
	agents map[string]struct{}
}

func (s *stateSet) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok
}

func (s *stateSet) set(id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.agents[id] = struct{}{}
	} else {
		delete(s.agents, id)
	}
}

func (s *stateSet) add(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.agents[id] = struct{}{}
	}
}

// AgentStateManager — Kill-switch, карантин и песочница агентов.
// Hot Path читает только память; Redis синхронизирует инстансы, PostgreSQL — источник при старте.
type AgentStateManager struct {
	repo   AgentStatusProvider // nil — без БД
	rdb    *redis.Client       // nil — один инстанс
	logger *zap.Logger

	blocked    *stateSet
	quarantine *stateSet
	sandbox    *stateSet
}

func NewAgentStateManager(rdb *redis.Client, repo AgentStatusProvider, logger *zap.Logger) *AgentStateManager {
	newSet := func(st domain.AgentStatus, setKey, lockKey, channel string) *stateSet {
		return &stateSet{status: st, setKey: setKey, lockKey: lockKey, channel: channel, agents: make(map[string]struct{})}
	}
	return &AgentStateManager{
		repo:       repo,
		rdb:        rdb,
		logger:     logger.With(zap.String("mod", "agent-state")),
		blocked:    newSet(domain.AgentBlocked, infra.RedisKeyBlockedAgents, infra.RedisKeyLockBlocked, infra.RedisChanKillSwitch),
		quarantine: newSet(domain.AgentQuarantine, infra.RedisKeyQuarantineAgents, infra.RedisKeyLockBlockedQuarantine, infra.RedisChanQuarantine),
		sandbox:    newSet(domain.AgentSandbox, infra.RedisKeySandboxAgents, infra.RedisKeyLockBlockedSandbox, infra.RedisChanSandbox),
	}
}

func (m *AgentStateManager) sets() []*stateSet {
	return []*stateSet{m.blocked, m.quarantine, m.sandbox}
}

// Init загружает состояние всех режимов при старте движка.
func (m *AgentStateManager) Init(ctx context.Context) error {
	for _, s := range m.sets() {
		if err := m.initSet(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *AgentStateManager) initSet(ctx context.Context, s *stateSet) error {
	var ids []string
	if m.repo != nil {
		var err error
		if ids, err = m.repo.IDsByStatus(ctx, s.status); err != nil {
			return fmt.Errorf("failed to fetch %s agents from DB: %w", s.status, err)
		}
	}
	if m.rdb == nil {
		s.add(ids)
		return nil
	}

	if err := WarmupState(ctx, m.rdb, m.logger, ids, s.setKey, s.lockKey, s.add); err != nil {
		return err
	}
	// Сигналы, отправленные другими инстансами до нашего старта, лежат только в Redis
	members, err := m.rdb.SMembers(ctx, s.setKey).Result()
	if err != nil {
		m.logger.Warn("could not read agent state from Redis", zap.String("key", s.setKey), zap.Error(err))
		return nil
	}
	s.add(members)
	return nil
}

// StartListeners подписывается на сигналы всех режимов. Блокирует до отмены ctx.
func (m *AgentStateManager) StartListeners(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	var wg sync.WaitGroup
	for _, s := range m.sets() {
		wg.Add(1)
		go func(s *stateSet) {
			defer wg.Done()
			ListenStateResilient(ctx, m.rdb, m.logger, s.channel,
				func() error { return m.initSet(ctx, s) }, // Переподключение
				s.set,
			)
		}(s)
	}
	wg.Wait()
}

// SetStatus — операторское действие: один основной статус агента.
// active снимает все режимы, остальные включают свой и выключают прочие.
func (m *AgentStateManager) SetStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	switch status {
	case domain.AgentActive, domain.AgentBlocked, domain.AgentQuarantine, domain.AgentSandbox:
	default:
		return fmt.Errorf("unknown agent status %q", status)
	}

	if m.repo != nil {
		if err := m.repo.UpdateStatus(ctx, agentID, status); err != nil {
			return err
		}
	}

	for _, s := range m.sets() {
		on := s.status == status
		s.set(agentID, on)
		if m.rdb == nil {
			continue
		}
		if err := m.broadcast(ctx, s, agentID, on); err != nil {
			m.logger.Error("agent state broadcast failed",
				zap.String("agent_id", agentID), zap.String("chan", s.channel), zap.Error(err))
		}
	}

	m.logger.Info("agent status changed", zap.String("agent_id", agentID), zap.String("status", string(status)))
	return nil
}

func (m *AgentStateManager) broadcast(ctx context.Context, s *stateSet, agentID string, on bool) error {
	signal := agentID + ":off"
	pipe := m.rdb.TxPipeline()
	if on {
		signal = agentID + ":on"
		pipe.SAdd(ctx, s.setKey, agentID)
	} else {
		pipe.SRem(ctx, s.setKey, agentID)
	}
	pipe.Publish(ctx, s.channel, signal)
	_, err := pipe.Exec(ctx)
	return err
}

// IsBlocked — Kill-switch, максимально быстрый метод для Hot Path.
func (m *AgentStateManager) IsBlocked(agentID string) bool { return m.blocked.has(agentID) }

// IsQuarantined — любая покупка агента требует step-up.
func (m *AgentStateManager) IsQuarantined(agentID string) bool { return m.quarantine.has(agentID) }

// IsSandbox — расчет без реального списания.
func (m *AgentStateManager) IsSandbox(agentID string) bool { return m.sandbox.has(agentID) }
