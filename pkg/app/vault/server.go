// Package vault implements app.Runner for the vault service process.
package vault

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apphttp "github.com/chainsafe/xchain-vault/pkg/app/http"
	"github.com/chainsafe/xchain-vault/pkg/auth"
	"github.com/chainsafe/xchain-vault/pkg/config"
	"github.com/chainsafe/xchain-vault/pkg/eventstream"
	"github.com/chainsafe/xchain-vault/pkg/gateway"
	"github.com/chainsafe/xchain-vault/pkg/pgutil"
	reconcilerpkg "github.com/chainsafe/xchain-vault/pkg/reconciler"
	domain "github.com/chainsafe/xchain-vault/pkg/vault"
	vaultservice "github.com/chainsafe/xchain-vault/pkg/vault/service"
	"github.com/chainsafe/xchain-vault/pkg/vaultstore"
)

// Server holds cfg to init the vault service.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new vault server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the service and blocks until SIGINT/SIGTERM.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("vault config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vault service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("gateway_mode", cfg.Gateway.Mode),
		zap.String("gateway_address", cfg.Gateway.GatewayAddress().Hex()),
	)

	store, err := s.openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	dispatcher, closeDispatcher, err := s.openDispatcher(logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	baseFee, err := cfg.Fees.BaseFeeWei()
	if err != nil {
		return err
	}
	if cfg.Simulation.Enabled {
		logger.Warn("Low-gas failure simulation is enabled; withdrawals below the threshold are refunded without dispatch",
			zap.Uint64("gas_threshold", cfg.Simulation.GasThreshold))
	}

	var opts []vaultservice.Option
	if cfg.Events.Enabled() {
		publisher, err := eventstream.NewRedisPublisher(ctx, &cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("connect event stream: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		opts = append(opts, vaultservice.WithPublisher(publisher))
	}

	svc := vaultservice.NewLog(vaultservice.NewService(store, dispatcher, vaultservice.Config{
		Gateway: cfg.Gateway.GatewayAddress(),
		Fees:    domain.NewFeePolicy(baseFee),
		Simulation: vaultservice.SimulationConfig{
			Enabled:      cfg.Simulation.Enabled,
			GasThreshold: cfg.Simulation.GasThreshold,
		},
	}, logger, opts...), logger)

	nonces, closeNonces, err := s.openNonceStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeNonces()
	verifier := auth.NewVerifier(nonces, cfg.Auth.MaxSignatureAge)

	rec := reconcilerpkg.New(store, cfg.Reconciliation.StaleAfter, logger)
	stopReconcile := s.startPeriodicReconcile(ctx, rec, logger)
	defer stopReconcile()

	router := s.setupRouter(svc, verifier, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server, cfg.Shutdown.Timeout)

	// stop background work before the store closes
	stopReconcile()

	return err
}

func (s *Server) openStore(ctx context.Context, logger *zap.Logger) (vaultstore.Store, error) {
	if s.cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory ledger; state is lost on restart")
		return vaultstore.NewMemoryStore(), nil
	}

	db, err := pgutil.ConnectDB(ctx, &s.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	logger.Info("Connected to database",
		zap.String("host", s.cfg.Database.Host),
		zap.String("database", s.cfg.Database.Database),
	)
	return vaultstore.NewStore(db), nil
}

func (s *Server) openDispatcher(logger *zap.Logger) (gateway.Dispatcher, func(), error) {
	if s.cfg.Gateway.Mode == config.GatewayModeLog {
		logger.Warn("Gateway in log mode; withdrawals are recorded, not submitted")
		return gateway.NewLogGateway(logger), func() {}, nil
	}

	gw, err := gateway.NewEVMGateway(&s.cfg.Gateway, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create gateway client: %w", err)
	}
	return gw, gw.Close, nil
}

func (s *Server) openNonceStore(ctx context.Context, logger *zap.Logger) (auth.NonceStore, func(), error) {
	if s.cfg.Auth.NonceStore != config.NonceStoreRedis {
		return auth.NewMemoryNonceStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(s.cfg.Auth.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid auth.redis_url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect nonce store: %w", err)
	}
	logger.Info("Signature nonces shared through redis", zap.String("addr", opts.Addr))
	return auth.NewRedisNonceStore(client, s.cfg.Auth.KeyPrefix), func() { _ = client.Close() }, nil
}

func (s *Server) startPeriodicReconcile(
	ctx context.Context,
	reconciler *reconcilerpkg.Reconciler,
	logger *zap.Logger,
) func() {
	if s.cfg.Reconciliation.Interval <= 0 {
		return func() {}
	}

	if _, err := reconciler.ReconcileAll(ctx); err != nil {
		logger.Warn("Initial reconciliation failed (will retry periodically)", zap.Error(err))
	}
	reconciler.StartPeriodicReconciliation(s.cfg.Reconciliation.Interval)

	stopped := false
	return func() {
		if !stopped {
			stopped = true
			reconciler.Stop()
		}
	}
}

func (s *Server) setupRouter(svc vaultservice.Service, verifier *auth.Verifier, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.MiddlewareTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	vaultservice.RegisterRoutes(r, svc, verifier, logger)
	vaultservice.RegisterGatewayRoutes(r, svc, verifier, logger)

	return r
}
