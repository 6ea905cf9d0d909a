package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"github.com/xela07ax/agentpay/internal/lock"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (n *recordingNotifier) Deliver(_ context.Context, req *domain.ApprovalRequest, deviceID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req.ID+"@"+deviceID)
	if n.fails {
		return errors.New("push gateway down")
	}
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine(n Notifier) (*Machine, *clock) {
	c := &clock{t: t0}
	a := NewAnalyzer(DefaultTTL, zap.NewNop())
	a.now = c.now
	m := NewMachine(NewMemoryStore(), lock.NewLocal(), n, a, 30*time.Minute, zap.NewNop())
	m.now = c.now
	return m, c
}

func policy(limit string) domain.SpendPolicy {
	return domain.SpendPolicy{AgentSpendLimit: domain.MustMoney(limit, "USD")}
}

func stepUpInput(mandate string) Input {
	return Input{
		MandateID: mandate,
		UserID:    "user-1",
		DeviceID:  "iphone_15_pro_1",
		Amount:    domain.MustMoney("139.42", "USD"),
		Policy:    policy("100.00"),
		MandateAt: t0,
	}
}

func attestationAt(ts time.Time) *domain.Attestation {
	return &domain.Attestation{
		Type:      "device_biometric",
		Method:    "face_id",
		Signature: "0x9f8e7d6c5b4a",
		Timestamp: ts,
		DeviceID:  "iphone_15_pro_1",
	}
}

func TestDecideAutoApproves(t *testing.T) {
	n := &recordingNotifier{}
	m, _ := newTestMachine(n)
	ctx := context.Background()

	in := stepUpInput("pm-small")
	in.Amount = domain.MustMoney("50.00", "USD")
	d, err := m.Decide(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, d.Status)
	assert.Nil(t, d.Request)

	// сумма ровно на лимите
	in.Amount = domain.MustMoney("100.00", "USD")
	d, err = m.Decide(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, d.Status)

	// аттестация уже получена агентом
	in = stepUpInput("pm-attested")
	in.Attestation = attestationAt(t0.Add(-time.Minute))
	d, err = m.Decide(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, d.Status)

	assert.Empty(t, n.sent)
}

func TestDecideCreatesPendingOnce(t *testing.T) {
	n := &recordingNotifier{}
	m, _ := newTestMachine(n)
	ctx := context.Background()

	d, err := m.Decide(ctx, stepUpInput("pm-1"))
	require.NoError(t, err)
	require.NotNil(t, d.Request)
	assert.Equal(t, domain.StatusPendingApproval, d.Status)
	assert.Equal(t, t0.Add(30*time.Minute), d.Request.ExpiresAt)
	assert.Equal(t, []string{d.Request.ID + "@iphone_15_pro_1"}, n.sent)

	again, err := m.Decide(ctx, stepUpInput("pm-1"))
	require.NoError(t, err)
	assert.Equal(t, d.Request.ID, again.Request.ID)
	assert.Len(t, n.sent, 1)
}

func TestDecideSurvivesNotifierFailure(t *testing.T) {
	m, _ := newTestMachine(&recordingNotifier{fails: true})
	d, err := m.Decide(context.Background(), stepUpInput("pm-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, d.Status)
}

func TestQuarantineForcesStepUp(t *testing.T) {
	m, _ := newTestMachine(&recordingNotifier{})
	in := stepUpInput("pm-q")
	in.Amount = domain.MustMoney("1.00", "USD")
	in.Quarantined = true

	d, err := m.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, d.Status)
}

func TestAttestApprovesExactlyOnce(t *testing.T) {
	m, c := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d, err := m.Decide(ctx, stepUpInput("pm-1"))
	require.NoError(t, err)
	id := d.Request.ID

	c.t = t0.Add(5 * time.Minute)
	req, err := m.Attest(ctx, id, attestationAt(c.t))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)
	require.NotNil(t, req.Attestation)

	// второе событие игнорируется
	second, err := m.Attest(ctx, id, attestationAt(c.t.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, second.Status)
	assert.Equal(t, req.Attestation.Timestamp, second.Attestation.Timestamp)

	rejected, err := m.Reject(ctx, id, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, rejected.Status)
}

func TestAttestValidation(t *testing.T) {
	m, c := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d, err := m.Decide(ctx, stepUpInput("pm-1"))
	require.NoError(t, err)
	id := d.Request.ID
	c.t = t0.Add(time.Minute)

	bad := attestationAt(c.t)
	bad.Signature = ""
	_, err = m.Attest(ctx, id, bad)
	assert.ErrorIs(t, err, domain.ErrMalformedAttest)

	_, err = m.Attest(ctx, id, attestationAt(t0.Add(-time.Second)))
	assert.ErrorIs(t, err, domain.ErrAttestOutOfWindow)

	_, err = m.Attest(ctx, id, attestationAt(t0.Add(31*time.Minute)))
	assert.ErrorIs(t, err, domain.ErrAttestOutOfWindow)

	// запрос остался в ожидании
	req, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, req.Status)

	_, err = m.Attest(ctx, "missing", attestationAt(c.t))
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
}

func TestAttestBoundToPromptedDevice(t *testing.T) {
	m, c := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d, err := m.Decide(ctx, stepUpInput("pm-device"))
	require.NoError(t, err)
	assert.Equal(t, "iphone_15_pro_1", d.Request.DeviceID)
	c.t = t0.Add(time.Minute)

	foreign := attestationAt(c.t)
	foreign.DeviceID = "pixel_9"
	_, err = m.Attest(ctx, d.Request.ID, foreign)
	assert.ErrorIs(t, err, domain.ErrMalformedAttest)

	req, err := m.Status(ctx, d.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, req.Status)

	approved, err := m.Attest(ctx, d.Request.ID, attestationAt(c.t))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
}

func TestForeignDeviceAttestationRequiresStepUp(t *testing.T) {
	n := &recordingNotifier{}
	m, _ := newTestMachine(n)

	in := stepUpInput("pm-foreign")
	in.Attestation = attestationAt(t0.Add(-time.Minute))
	in.Attestation.DeviceID = "pixel_9"
	d, err := m.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, d.Status)
	require.NotNil(t, d.Request)
	assert.Len(t, n.sent, 1)
}

func TestDecideExpiresUnderApprovalLock(t *testing.T) {
	m, c := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d, err := m.Decide(ctx, stepUpInput("pm-lock"))
	require.NoError(t, err)

	// заявку держит Attest: повторный Decide ждет блокировку, а не пишет EXPIRED в обход нее
	unlock, err := m.locker.Lock(ctx, d.Request.ID)
	require.NoError(t, err)
	c.t = t0.Add(31 * time.Minute)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.Decide(short, stepUpInput("pm-lock"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	req, err := m.store.Get(ctx, d.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, req.Status)
	unlock()

	again, err := m.Decide(ctx, stepUpInput("pm-lock"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, again.Status)
	assert.Equal(t, d.Request.ID, again.Request.ID)
}

func TestLazyExpiry(t *testing.T) {
	m, c := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d, err := m.Decide(ctx, stepUpInput("pm-1"))
	require.NoError(t, err)
	id := d.Request.ID

	// ровно на границе еще ожидает
	c.t = d.Request.ExpiresAt
	req, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, req.Status)

	c.t = d.Request.ExpiresAt.Add(time.Second)
	req, err = m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, req.Status)

	// аттестация после истечения не оживляет запрос
	late, err := m.Attest(ctx, id, attestationAt(d.Request.ExpiresAt))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, late.Status)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRejectAndPending(t *testing.T) {
	m, _ := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d1, _ := m.Decide(ctx, stepUpInput("pm-1"))
	d2, _ := m.Decide(ctx, stepUpInput("pm-2"))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	req, err := m.Reject(ctx, d1.Request.ID, "declined on device")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, req.Status)
	assert.Equal(t, "declined on device", req.Reason)

	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d2.Request.ID, pending[0].ID)
}

func TestConcurrentAttestAndReject(t *testing.T) {
	m, c := newTestMachine(&recordingNotifier{})
	ctx := context.Background()
	d, err := m.Decide(ctx, stepUpInput("pm-race"))
	require.NoError(t, err)
	id := d.Request.ID
	c.t = t0.Add(time.Minute)

	var wg sync.WaitGroup
	results := make(chan domain.ApprovalStatus, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r, err := m.Attest(ctx, id, attestationAt(t0.Add(time.Minute))); err == nil {
				results <- r.Status
			}
		}()
		go func() {
			defer wg.Done()
			if r, err := m.Reject(ctx, id, "no"); err == nil {
				results <- r.Status
			}
		}()
	}
	wg.Wait()
	close(results)

	// все наблюдатели видят один и тот же терминальный статус
	var first domain.ApprovalStatus
	for s := range results {
		if first == "" {
			first = s
		}
		assert.Equal(t, first, s)
	}
	final, _ := m.Status(ctx, id)
	assert.Equal(t, first, final.Status)
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, infra.RedisChanApprovalPrompt)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	req := &domain.ApprovalRequest{ID: "ap-1", UserID: "user-1", Amount: domain.MustMoney("139.42", "USD"), ExpiresAt: t0}
	require.NoError(t, NewRedisNotifier(rdb).Deliver(ctx, req, "iphone"))

	select {
	case msg := <-sub.Channel():
		var p Prompt
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
		assert.Equal(t, "ap-1", p.ApprovalID)
		assert.Equal(t, "iphone", p.DeviceID)
		assert.Equal(t, "139.42", p.Amount.String())
	case <-time.After(time.Second):
		t.Fatal("prompt was not published")
	}
}
