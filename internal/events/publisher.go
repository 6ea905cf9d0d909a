// Package events доставляет события платежей: журнал в Postgres, вебхуки и Redis Pub/Sub.
package events

import (
	"context"

	"github.com/xela07ax/agentpay/internal/domain"
)

// Publisher — неблокирующая отправка события. Ошибки доставки — забота реализации.
type Publisher interface {
	Publish(ctx context.Context, e domain.PaymentEvent)
}

// Fanout рассылает событие всем подписчикам по порядку.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e domain.PaymentEvent) {
	for _, p := range f {
		p.Publish(ctx, e)
	}
}

// Recorder запоминает события (sandbox, тесты).
type Recorder struct {
	ch chan domain.PaymentEvent
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan domain.PaymentEvent, size)}
}

func (r *Recorder) Publish(_ context.Context, e domain.PaymentEvent) {
	select {
	case r.ch <- e:
	default:
	}
}

// Drain возвращает все накопленные события.
func (r *Recorder) Drain() []domain.PaymentEvent {
	var out []domain.PaymentEvent
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
