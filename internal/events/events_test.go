package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"go.uber.org/zap"
)

type fakeStorage struct {
	mu      sync.Mutex
	batches [][]domain.PaymentEvent
}

func (f *fakeStorage) WriteBatch(_ context.Context, events []domain.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]domain.PaymentEvent, len(events))
	copy(cp, events)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeStorage) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func event(id string, typ domain.EventType) domain.PaymentEvent {
	return domain.PaymentEvent{
		ID:        id,
		Type:      typ,
		MandateID: "pm_" + id,
		Amount:    domain.MustMoney("10.00", "USD"),
		Timestamp: time.Now(),
	}
}

func TestJournal_FlushOnStop(t *testing.T) {
	store := &fakeStorage{}
	j := NewJournal(store, 500, time.Hour, zap.NewNop())
	j.Start()

	for i := 0; i < 250; i++ {
		j.Publish(context.Background(), event(string(rune('a'+i%26)), domain.EventPaymentCompleted))
	}
	j.Stop()

	assert.Equal(t, 250, store.total())
	// пачки не больше batchSize
	for _, b := range store.batches {
		assert.LessOrEqual(t, len(b), batchSize)
	}

	// после остановки события не принимаются, повторный Stop безопасен
	j.Publish(context.Background(), event("late", domain.EventPaymentFailed))
	j.Stop()
	assert.Equal(t, 250, store.total())
}

func TestJournal_FlushOnTicker(t *testing.T) {
	store := &fakeStorage{}
	j := NewJournal(store, 10, 20*time.Millisecond, zap.NewNop())
	j.Start()
	defer j.Stop()

	j.Publish(context.Background(), event("e1", domain.EventPaymentPending))
	assert.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestJournal_LoadShedding(t *testing.T) {
	store := &fakeStorage{}
	// воркер не запущен: буфер на 2 события, остальные отбрасываются
	j := NewJournal(store, 2, time.Hour, zap.NewNop())
	for i := 0; i < 5; i++ {
		j.Publish(context.Background(), event("x", domain.EventPaymentPending))
	}
	assert.Len(t, j.ch, 2)
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	sig := Sign("whsec", body)

	assert.True(t, Verify("whsec", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("whsec", []byte(`{"id":"evt_2"}`), sig))
	assert.False(t, Verify("whsec", body, "sha256=zz"))
}

func TestWebhookDispatcher_DeliversSignedEvent(t *testing.T) {
	type received struct {
		body   []byte
		header http.Header
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{body: b, header: r.Header.Clone()}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(WebhookConfig{URLs: []string{srv.URL}, Secret: "whsec"}, srv.Client(), zap.NewNop())
	d.Start()
	d.Publish(context.Background(), event("evt_1", domain.EventPaymentCompleted))
	d.Stop()

	select {
	case r := <-got:
		assert.Equal(t, "evt_1", r.header.Get(EventIDHeader))
		assert.Equal(t, string(domain.EventPaymentCompleted), r.header.Get(EventTypeHeader))
		assert.True(t, Verify("whsec", r.body, r.header.Get(SignatureHeader)))

		var e domain.PaymentEvent
		require.NoError(t, json.Unmarshal(r.body, &e))
		assert.Equal(t, "pm_evt_1", e.MandateID)
	default:
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookDispatcher_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(WebhookConfig{
		URLs:     []string{srv.URL},
		Attempts: 5,
		Delay:    time.Millisecond,
	}, srv.Client(), zap.NewNop())
	d.Start()
	d.Publish(context.Background(), event("evt_2", domain.EventPaymentFailed))
	d.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookDispatcher_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(WebhookConfig{
		URLs:     []string{srv.URL},
		Attempts: 5,
		Delay:    time.Millisecond,
	}, srv.Client(), zap.NewNop())
	d.Start()
	d.Publish(context.Background(), event("evt_3", domain.EventPaymentFailed))
	d.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRedisPublisherAndFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, infra.RedisChanPaymentEvents)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	rec := NewRecorder(4)
	fan := Fanout{NewRedisPublisher(rdb, zap.NewNop()), rec}
	fan.Publish(ctx, event("evt_4", domain.EventPaymentApproved))

	select {
	case msg := <-sub.Channel():
		var e domain.PaymentEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &e))
		assert.Equal(t, "evt_4", e.ID)
	case <-time.After(time.Second):
		t.Fatal("no redis message")
	}

	drained := rec.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, domain.EventPaymentApproved, drained[0].Type)
}
