package events

/*
Journal — журнал событий платежей с пакетной записью в PostgreSQL.

- Неблокирующая запись: события уходят в буферизованный канал, задержки БД
  не влияют на время ответа платежного API.
- Пакетная вставка по таймеру или при достижении размера пачки.
- Drain при остановке: канал закрывается, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

const batchSize = 100

// Storage — куда физически пишутся события.
type Storage interface {
	WriteBatch(ctx context.Context, events []domain.PaymentEvent) error
}

type Journal struct {
	ch       chan domain.PaymentEvent
	repo     Storage
	logger   *zap.Logger
	interval time.Duration
	wg       sync.WaitGroup
	isClosed int32 // 0 - открыт, 1 - закрыт
	// защищает close(ch) от гонки с Publish
	mu sync.RWMutex
}

func NewJournal(repo Storage, bufferSize int, interval time.Duration, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Journal{
		ch:       make(chan domain.PaymentEvent, bufferSize),
		repo:     repo,
		logger:   logger.With(zap.String("mod", "journal")),
		interval: interval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер все допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if !atomic.CompareAndSwapInt32(&j.isClosed, 0, 1) {
		j.mu.Unlock()
		return
	}
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Publish(_ context.Context, e domain.PaymentEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("payment event dropped: journal is stopping", zap.String("id", e.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен тормозить платеж
	select {
	case j.ch <- e:
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("event_id", e.ID),
			zap.String("mandate_id", e.MandateID),
			zap.String("type", string(e.Type)),
		)
	}
}

// Len — сколько событий ждет записи.
func (j *Journal) Len() int { return len(j.ch) }

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]domain.PaymentEvent, 0, batchSize)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				flush() // Финальный сброс
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
