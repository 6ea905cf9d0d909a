package policy

import (
	"context"
	"time"

	"github.com/xela07ax/agentpay/internal/infra"
	"go.uber.org/zap"
)

// StartListener слушает сигналы об изменении лимитов. При переподключении делает полный Refresh,
// чтобы не потерять обновления, пришедшие во время разрыва.
func (e *MemoLimits) StartListener(ctx context.Context) {
	if e.rdb == nil {
		return
	}
	for {
		pubsub := e.rdb.Subscribe(ctx, infra.RedisChanLimitsUpdate)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanLimitsUpdate), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}
		if err := e.Refresh(ctx); err != nil {
			e.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				e.reload(ctx, msg.Payload)
			}
		}
		pubsub.Close()
		time.Sleep(time.Second)
	}
}
