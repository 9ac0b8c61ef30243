package main

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis/internal/audit"
	"aegis/internal/credential"
	"aegis/internal/identity"
	"aegis/internal/platform/config"
	"aegis/internal/platform/kafkabus"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/metrics"
	"aegis/internal/platform/pg"
	"aegis/internal/platform/redispool"
	"aegis/internal/platform/tracing"
	"aegis/internal/risk"
	"aegis/internal/session"
	"aegis/internal/tenantuser"
	"aegis/internal/webauthn"
	"aegis/pkg/cryptoprovider"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// services bundles every core component main wires together, kept as a
// single struct so graceful shutdown and health checks have one place
// to reach into.
type services struct {
	audit      *audit.Service
	credential *credential.Service
	webauthn   *webauthn.Engine
	risk       *risk.Service
	identity   *identity.Service
	session    *session.Service
	tenantuser *tenantuser.Service

	db     sqlDB
	riskDB sqlDB
	kafka  *kafkabus.Producer
}

// sqlDB is a narrow alias so main doesn't need to import database/sql
// just to close the pool on shutdown.
type sqlDB = interface{ Close() error }

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.Dev)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = m // registered globally via promauto; exposed through newRouter's /metrics handler

	svc, err := wire(ctx, cfg, log)
	if err != nil {
		log.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer func() {
		if svc.db != nil {
			_ = svc.db.Close()
		}
		if svc.riskDB != nil {
			_ = svc.riskDB.Close()
		}
		if svc.kafka != nil {
			svc.kafka.Close()
		}
	}()

	router := newRouter()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting aegis", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// wire assembles every service in the order audit -> identity -> risk ->
// session -> credential -> webauthn -> tenant/user. The session service
// is built before the credential service because the credential service
// takes it as its SessionTerminator.
func wire(ctx context.Context, cfg config.Config, log *slog.Logger) (*services, error) {
	db, err := pg.Open(ctx, pg.DefaultConfig(cfg.PostgresDSN))
	if err != nil {
		return nil, err
	}

	riskDB, err := pg.OpenPGX(ctx, pg.DefaultConfig(cfg.PostgresDSN))
	if err != nil {
		return nil, err
	}

	redisClient, err := redispool.New(redispool.DefaultConfig(cfg.RedisAddr))
	if err != nil {
		log.Warn("redis unavailable, webauthn challenges will not survive a restart", "error", err)
	}

	var kafkaProducer *kafkabus.Producer
	if err := kafkabus.ProvisionTopics(ctx, cfg.KafkaBrokers); err != nil {
		log.Warn("failed to provision audit topics", "error", err)
	} else if p, err := kafkabus.NewProducer(cfg.KafkaBrokers); err != nil {
		log.Warn("kafka producer unavailable, audit alert fan-out disabled", "error", err)
	} else {
		kafkaProducer = p
	}

	auditOpts := []audit.Option{audit.WithLogger(log)}
	if kafkaProducer != nil {
		auditOpts = append(auditOpts, audit.WithAlertSink(kafkaProducer))
	}
	auditSvc := audit.NewService(audit.NewPostgresStore(db), auditOpts...)

	identitySvc := identity.NewService(identity.NewPostgresStore(db))

	encryptionKey := sha256.Sum256([]byte(cfg.JWTSigningKey))
	crypto := cryptoprovider.New(encryptionKey)
	tracer := tracing.New("aegis")

	riskSvc := risk.NewService(risk.NewPostgresStore(riskDB), auditSvc, risk.WithWeights(risk.FactorWeights{
		Device:     cfg.Risk.Device,
		Location:   cfg.Risk.Location,
		Behavioral: cfg.Risk.Behavioral,
		Temporal:   cfg.Risk.Temporal,
		Velocity:   cfg.Risk.Velocity,
		Anomaly:    cfg.Risk.Anomaly,
	}))

	sessionPolicy := session.DefaultPolicy()
	sessionPolicy.TTL = cfg.Session.TTL
	sessionPolicy.MaxConcurrentSessions = cfg.Session.MaxConcurrentPerUser
	sessionPolicy.RefreshWindow = cfg.Session.RefreshWindow
	sessionSvc := session.NewService(session.NewPostgresStore(db), crypto, auditSvc, session.WithPolicy(sessionPolicy), session.WithTracer(tracer))

	credentialStore := credential.NewPostgresStore(db)
	credentialSvc := credential.NewService(credentialStore, auditSvc, credential.WithSessionTerminator(sessionSvc))

	var challengeStore webauthn.ChallengeStore
	if redisClient != nil {
		challengeStore = webauthn.NewRedisChallengeStore(redisClient.Client)
	} else {
		challengeStore = webauthn.NewMemoryChallengeStore()
	}
	webauthnEngine := webauthn.NewEngine(challengeStore, credentialStore, credentialSvc, crypto, auditSvc, webauthn.WithTracer(tracer))

	tenantUserPolicy := tenantuser.DefaultPolicy()
	tenantUserPolicy.MaxFailedAttempts = cfg.User.MaxFailedAttempts
	tenantUserPolicy.LockoutDuration = cfg.User.LockoutDuration
	tenantUserSvc := tenantuser.NewService(tenantuser.NewPostgresStore(db), auditSvc, tenantuser.WithPolicy(tenantUserPolicy))

	return &services{
		audit:      auditSvc,
		credential: credentialSvc,
		webauthn:   webauthnEngine,
		risk:       riskSvc,
		identity:   identitySvc,
		session:    sessionSvc,
		tenantuser: tenantUserSvc,
		db:         db,
		riskDB:     riskDB,
		kafka:      kafkaProducer,
	}, nil
}

// newRouter exposes a thin liveness/metrics-only mux; the
// authentication/GraphQL surface itself stays out of scope per
// spec.md §1, but an operable binary still needs a mux for /healthz
// and /metrics.
func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
