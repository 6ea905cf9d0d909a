package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"go.uber.org/zap"
)

// Notifier доставляет запрос биометрии на устройство пользователя (push / QR).
type Notifier interface {
	Deliver(ctx context.Context, req *domain.ApprovalRequest, deviceID string) error
}

// Prompt — сообщение для мобильного приложения.
type Prompt struct {
	ApprovalID string               `json:"approval_id"`
	UserID     string               `json:"user_id"`
	DeviceID   string               `json:"device_id"`
	MerchantID string               `json:"merchant_id"`
	Amount     domain.Money         `json:"amount"`
	Plan       domain.PlanID        `json:"plan_id"`
	Schedule   []domain.Installment `json:"schedule"`
	ExpiresAt  string               `json:"expires_at"`
}

// RedisNotifier публикует запрос в канал, который слушает push-сервис.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Deliver(ctx context.Context, req *domain.ApprovalRequest, deviceID string) error {
	msg, err := json.Marshal(promptFor(req, deviceID))
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	return n.rdb.Publish(ctx, infra.RedisChanApprovalPrompt, msg).Err()
}

// LogNotifier только пишет запрос в лог (sandbox и локальный запуск).
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("approval-prompt")}
}

func (n *LogNotifier) Deliver(_ context.Context, req *domain.ApprovalRequest, deviceID string) error {
	n.logger.Info("approval prompt",
		zap.String("approval_id", req.ID),
		zap.String("user_id", req.UserID),
		zap.String("device_id", deviceID),
		zap.String("amount", req.Amount.String()),
		zap.Time("expires_at", req.ExpiresAt),
	)
	return nil
}

func promptFor(req *domain.ApprovalRequest, deviceID string) Prompt {
	return Prompt{
		ApprovalID: req.ID,
		UserID:     req.UserID,
		DeviceID:   deviceID,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Plan:       req.Plan.ID,
		Schedule:   req.Plan.Schedule,
		ExpiresAt:  req.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
