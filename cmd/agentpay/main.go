package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/agentpay/internal/api"
	"github.com/xela07ax/agentpay/internal/approval"
	"github.com/xela07ax/agentpay/internal/bnpl"
	"github.com/xela07ax/agentpay/internal/credential"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/engine"
	"github.com/xela07ax/agentpay/internal/events"
	"github.com/xela07ax/agentpay/internal/infra"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"github.com/xela07ax/agentpay/internal/ledger"
	"github.com/xela07ax/agentpay/internal/limits"
	"github.com/xela07ax/agentpay/internal/lock"
	"github.com/xela07ax/agentpay/internal/mandate"
	"github.com/xela07ax/agentpay/internal/policy"
	"github.com/xela07ax/agentpay/internal/repository/postgres"
	"github.com/xela07ax/agentpay/internal/settlement"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для фоновых горутин: SIGTERM → cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Инфраструктура: PostgreSQL и Redis необязательны, без них все живет в памяти
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = postgres.Open(appCtx, cfg.Database)
		if err != nil {
			logger.Fatal("postgres unavailable", zap.Error(err))
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(appCtx).Err(); err != nil {
			logger.Fatal("redis unavailable", zap.Error(err))
		}
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Хранилища и блокировки: Redis, если есть, иначе память процесса
	var (
		approvalLocker   lock.Locker             = lock.NewLocal()
		settlementLocker lock.Locker             = lock.NewLocal()
		bindings         credential.BindingStore = credential.NewMemoryBindings()
		spend            limits.Counter          = limits.NewMemory()
		notifier         approval.Notifier       = approval.NewLogNotifier(logger)
	)
	if rdb != nil {
		approvalLocker = lock.NewRedis(rdb, infra.RedisKeyLockApproval, 30*time.Second)
		settlementLocker = lock.NewRedis(rdb, infra.RedisKeyLockSettlement, time.Minute)
		bindings = credential.NewRedisBindings(rdb)
		spend = limits.NewRedis(rdb)
		notifier = approval.NewRedisNotifier(rdb)
	}

	memDir := credential.NewMemoryDirectory()
	var (
		approvals approval.Store              = approval.NewMemoryStore()
		receipts  settlement.ReceiptStore     = settlement.NewMemoryReceipts()
		directory credential.AccountDirectory = memDir
	)
	register := func(_ context.Context, a domain.Account) error { return memDir.Register(a) }

	// Интерфейсы без БД остаются nil-интерфейсами, а не nil-указателями
	var (
		limitsRepo policy.LimitsRepository
		agentRepo  engine.AgentStatusProvider
		dashboard  api.DashboardSource
	)
	if db != nil {
		accounts := postgres.NewAccountRepo(db)
		approvals = postgres.NewApprovalRepo(db)
		receipts = postgres.NewReceiptRepo(db)
		directory = accounts
		register = accounts.Register
		limitsRepo = accounts
		agentRepo = postgres.NewAgentRepo(db)
		dashboard = postgres.NewDashboardRepo(db)
	}

	// 3. Кредитный леджер (симулятор контракта) под rate limiter + circuit breaker + retry
	mem := ledger.NewMemory()
	if err := seed(appCtx, cfg.Seed, cfg.Engine.Currency, mem, register); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	reliable := settlement.NewReliableLedger(mem, settlement.ReliableConfig{
		RateLimit:     cfg.Ledger.RateLimit,
		RateBurst:     cfg.Ledger.RateBurst,
		Attempts:      cfg.Ledger.RetryAttempts,
		Delay:         cfg.Ledger.RetryDelay,
		MaxDelay:      cfg.Ledger.RetryMaxDelay,
		CBMaxRequests: cfg.Ledger.CBMaxRequests,
		CBInterval:    cfg.Ledger.CBInterval,
		CBTimeout:     cfg.Ledger.CBTimeout,
	})
	metrics.ObserveBreaker("credit-ledger", reliable.State)

	// 4. События: журнал в Postgres, вебхуки, Redis Pub/Sub
	webhooks := events.NewWebhookDispatcher(events.WebhookConfig{
		URLs:      cfg.Webhooks.URLs,
		Secret:    cfg.Webhooks.Secret,
		Timeout:   cfg.Webhooks.Timeout,
		Attempts:  cfg.Webhooks.Attempts,
		QueueSize: cfg.Webhooks.QueueSize,
	}, nil, logger)
	webhooks.Start()
	fanout := events.Fanout{webhooks}

	var journal *events.Journal
	if db != nil {
		journal = events.NewJournal(postgres.NewEventRepo(db), cfg.Engine.EventBufferSize, cfg.Engine.EventFlushPeriod, logger)
		journal.Start()
		metrics.ObserveEventBuffer(journal.Len)
		fanout = append(fanout, journal)
	}
	if rdb != nil {
		fanout = append(fanout, events.NewRedisPublisher(rdb, logger))
	}

	// 5. Control Plane: статусы агентов и лимиты
	agents := engine.NewAgentStateManager(rdb, agentRepo, logger)
	if err := agents.Init(appCtx); err != nil {
		logger.Fatal("failed to init agent state", zap.Error(err))
	}
	go agents.StartListeners(appCtx)

	memo := policy.NewMemoLimits(limitsRepo, rdb, policy.Defaults(cfg.Engine.Currency), logger)
	if err := memo.Refresh(appCtx); err != nil {
		logger.Fatal("failed to load spend limits", zap.Error(err))
	}
	go memo.StartListener(appCtx)

	// 6. Core
	var verifier mandate.SignatureVerifier
	if cfg.Engine.VerifyMerchants {
		keys := mandate.NewMerchantKeys()
		for id, secret := range cfg.Engine.MerchantSecrets {
			keys.SetSecret(id, []byte(secret))
		}
		verifier = mandate.NewMerchantJWTVerifier(keys)
	}

	analyzer := approval.NewAnalyzer(cfg.Engine.ApprovalTTL, logger)
	machine := approval.NewMachine(approvals, approvalLocker, notifier, analyzer, cfg.Engine.ApprovalTTL, logger)
	tokens := credential.NewService([]byte(cfg.Auth.CredentialSecret), cfg.Auth.CredentialTTL, directory, bindings, logger)

	core := engine.NewPaymentCore(engine.Deps{
		Validator:  mandate.NewValidator(cfg.Engine.CartTTL, verifier),
		Quotes:     bnpl.NewEngine(cfg.BNPL.SettlementOffsetDays, cfg.BNPL.RateBps),
		Tokens:     tokens,
		Directory:  directory,
		Approvals:  machine,
		Settlement: settlement.NewExecutor(reliable, receipts, settlementLocker, logger),
		Ledger:     reliable,
		Limits:     memo,
		Spend:      spend,
		Agents:     agents,
		Locker:     settlementLocker,
		Events:     fanout,
		Metrics:    metrics,
		Logger:     logger,
	})

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 7. HTTP API
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(core, validator, dashboard, reg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("agentpay http api started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 8. gRPC API для платежных процессоров
	var grpcSrv *grpc.Server
	if cfg.GRPC.Port > 0 {
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(validator, domain.ScopePayments, logger)))
		engine.RegisterPaymentServiceServer(grpcSrv, engine.NewGRPCPaymentServer(core))
		go func() {
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
			if err != nil {
				logger.Fatal("failed to listen gRPC", zap.Error(err))
			}
			logger.Info("agentpay grpc api started", zap.Int("port", cfg.GRPC.Port))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc serve", zap.Error(err))
			}
		}()
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("agentpay stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	cancel()

	// Сначала дописываем события, потом закрываем хранилища (defer)
	webhooks.Stop()
	if journal != nil {
		journal.Stop()
	}
	logger.Info("agentpay exited properly")
}

// seed открывает кредитные линии и мерчантов в симуляторе леджера и регистрирует аккаунты.
func seed(ctx context.Context, cfg infra.SeedConfig, currency string, l *ledger.Memory, register func(context.Context, domain.Account) error) error {
	for _, m := range cfg.Merchants {
		l.RegisterMerchant(m)
	}
	for _, a := range cfg.Accounts {
		limit, err := domain.ParseMoney(a.CreditLimit, currency)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", a.UserID, err)
		}
		l.RegisterBorrower(a.BorrowerID, limit)

		acct := domain.Account{
			UserID:      a.UserID,
			Email:       a.Email,
			BorrowerID:  a.BorrowerID,
			KYCVerified: true,
			DeviceID:    a.DeviceID,
		}
		for _, m := range a.Methods {
			acct.Methods = append(acct.Methods, domain.PaymentMethod{Type: m.Type, Alias: m.Alias, PlanID: domain.PlanID(m.PlanID)})
		}
		if err := register(ctx, acct); err != nil {
			return fmt.Errorf("seed account %s: %w", a.UserID, err)
		}
	}
	return nil
}
