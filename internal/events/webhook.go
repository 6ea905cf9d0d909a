package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-AgentPay-Signature"
	EventIDHeader   = "X-AgentPay-Event-Id"
	EventTypeHeader = "X-AgentPay-Event-Type"
	signaturePrefix = "sha256="
)

// WebhookConfig — параметры доставки вебхуков.
type WebhookConfig struct {
	URLs      []string
	Secret    string
	Timeout   time.Duration
	Attempts  uint
	Delay     time.Duration
	QueueSize int
}

// WebhookDispatcher доставляет события at-least-once: очередь, воркер и ретраи с бэкоффом.
// Получатель дедуплицирует по X-AgentPay-Event-Id.
type WebhookDispatcher struct {
	cfg    WebhookConfig
	client *http.Client
	queue  chan domain.PaymentEvent
	logger *zap.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewWebhookDispatcher(cfg WebhookConfig, client *http.Client, logger *zap.Logger) *WebhookDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 200 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookDispatcher{
		cfg:    cfg,
		client: client,
		queue:  make(chan domain.PaymentEvent, cfg.QueueSize),
		logger: logger.Named("webhooks"),
	}
}

func (d *WebhookDispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop дожидается доставки уже принятых событий.
func (d *WebhookDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *WebhookDispatcher) Publish(_ context.Context, e domain.PaymentEvent) {
	if len(d.cfg.URLs) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("webhook dropped: dispatcher stopped", zap.String("event_id", e.ID))
		return
	}
	select {
	case d.queue <- e:
	default:
		d.logger.Error("webhook_queue_overflow", zap.String("event_id", e.ID), zap.String("type", string(e.Type)))
	}
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for e := range d.queue {
		body, err := json.Marshal(e)
		if err != nil {
			d.logger.Error("marshal webhook failed", zap.String("event_id", e.ID), zap.Error(err))
			continue
		}
		for _, url := range d.cfg.URLs {
			if err := d.deliver(url, e, body); err != nil {
				d.logger.Error("webhook delivery failed",
					zap.String("url", url), zap.String("event_id", e.ID), zap.Error(err))
			}
		}
	}
}

func (d *WebhookDispatcher) deliver(url string, e domain.PaymentEvent, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout*time.Duration(d.cfg.Attempts+1))
	defer cancel()

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(d.cfg.Attempts),
		retry.Delay(d.cfg.Delay),
		retry.LastErrorOnly(true),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			var rejected *rejectedError
			return !errors.As(err, &rejected)
		}),
	)
	return r.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return &rejectedError{err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(EventIDHeader, e.ID)
		req.Header.Set(EventTypeHeader, string(e.Type))
		if d.cfg.Secret != "" {
			req.Header.Set(SignatureHeader, Sign(d.cfg.Secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook %s: status %d", url, resp.StatusCode)
		default:
			// 4xx — получатель отверг событие, повтор не поможет
			return &rejectedError{fmt.Errorf("webhook %s: status %d", url, resp.StatusCode)}
		}
	})
}

// rejectedError — ответ, который повторять бессмысленно.
type rejectedError struct{ error }

func (e *rejectedError) Unwrap() error { return e.error }

// Sign — подпись тела: "sha256=" + hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify — проверка подписи на стороне получателя.
func Verify(secret string, body []byte, header string) bool {
	sigHex := strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
