package server

import (
	"context"
	"net/http"
	"time"

	"deposit-service/internal/config"
	"deposit-service/internal/handler"
	"deposit-service/internal/middleware"
	"deposit-service/internal/provider"
	"deposit-service/internal/provider/coinpay"
	"deposit-service/internal/provider/internalgw"
	"deposit-service/internal/provider/nowpay"
	"deposit-service/internal/repository"
	"deposit-service/internal/router"
	"deposit-service/internal/usecase/deposit"
	"deposit-service/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// reconcileEvery is the cadence of the background sweep that re-credits
// finished payments whose credit was interrupted mid-flight.
const reconcileEvery = 5 * time.Minute

type Server struct {
	httpServer *http.Server
	db         *pgxpool.Pool
	store      *cache.Cache
	logger     *zap.Logger
	creditor   *deposit.Creditor
	stop       chan struct{}
}

func New(cfg *config.AppConfig) *Server {
	logger, _ := zap.NewProduction()

	// --- Connect Postgres ---
	db := config.ConnectDB(cfg)

	// --- Init Redis ---
	store := cache.NewCache([]string{cfg.RedisAddr}, cfg.RedisPass, false)

	// --- Init Payment Gateways ---
	npClient := nowpay.NewClient(cfg.NowpayBaseURL, cfg.NowpayAPIKey)
	np := nowpay.NewProvider(npClient, cfg.NowpayIPNSecret, logger)

	cpClient := coinpay.NewClient(cfg.CoinpayBaseURL, cfg.CoinpayAPIKey)
	cp := coinpay.NewProvider(cpClient, cfg.CoinpaySecret, cfg.PublicBaseURL+"/webhooks/coinpay", logger)

	in := internalgw.NewProvider(cfg.InternalSharedAddress, cfg.InternalSharedExtraID)

	registry := provider.NewRegistry(np, cp, in)

	// --- Repositories ---
	deployments := repository.NewDeploymentRepository(db)
	addresses := repository.NewAddressRepository(db)
	payments := repository.NewPaymentRepository(db)
	ledger := repository.NewLedgerRepository(db)

	// --- Usecases ---
	creditor := deposit.NewCreditor(payments, ledger, logger)
	provisioner := deposit.NewProvisioner(deployments, addresses, ledger, registry, logger)
	tracker := deposit.NewTracker(payments, deployments, registry, store, creditor, deposit.TrackerConfig{
		PublicBaseURL:  cfg.PublicBaseURL,
		FiatCurrency:   cfg.FiatCurrency,
		FallbackWindow: cfg.InvoiceWindow,
	}, logger)

	// --- Middleware + Handlers ---
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)
	depositHandler := handler.NewDepositHandler(provisioner, tracker, logger)
	webhookHandler := handler.NewWebhookHandler(registry, tracker, logger)

	r := router.SetupRoutes(depositHandler, webhookHandler, auth, store, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		db:       db,
		store:    store,
		logger:   logger,
		creditor: creditor,
		stop:     make(chan struct{}),
	}
}

func (s *Server) ListenAndServe() error {
	go s.reconcileLoop()
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	defer s.logger.Sync()
	defer s.store.Close()
	defer s.db.Close()
	return s.httpServer.Shutdown(ctx)
}

// reconcileLoop periodically retries credits that were lost between the
// status flip to finished and the ledger write.
func (s *Server) reconcileLoop() {
	ticker := time.NewTicker(reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := s.creditor.RetryUncredited(ctx, 100)
			cancel()
			if err != nil {
				s.logger.Error("credit reconciliation sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("credited payments recovered by sweep", zap.Int("count", n))
			}
		}
	}
}
