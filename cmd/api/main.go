package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/perkly/perkly-api/internal/config"
	"github.com/perkly/perkly-api/internal/domain/customer"
	"github.com/perkly/perkly-api/internal/domain/merchant"
	"github.com/perkly/perkly-api/internal/domain/offer"
	"github.com/perkly/perkly-api/internal/domain/redemption"
	"github.com/perkly/perkly-api/internal/middleware"
	"github.com/perkly/perkly-api/internal/pkg/database"
	"github.com/perkly/perkly-api/internal/pkg/jwt"
	"github.com/perkly/perkly-api/internal/pkg/logger"
	"github.com/perkly/perkly-api/internal/pkg/push"
	"github.com/perkly/perkly-api/internal/pkg/ratelimit"
	pkgresponse "github.com/perkly/perkly-api/internal/pkg/response"
	"github.com/perkly/perkly-api/internal/pkg/tokencodec"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Perkly API")

	// Fail closed: without the signing secret every token this process
	// issued or verified would be forgeable, so refuse to start at all.
	codec, err := tokencodec.New(cfg.SigningSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("REDEMPTION_SIGNING_SECRET must be set")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	offerRepo := offer.NewRepository(db)
	customerRepo := customer.NewRepository(db)
	merchantRepo := merchant.NewRepository(db)
	redemptionRepo := redemption.NewRepository(db)

	// ---------- Services ----------
	limiter := ratelimit.NewRedisLimiter(redisClient, "perkly:ratelimit:generate", cfg.RateLimitWindow, cfg.RateLimitMax)
	quota := redemption.NewQuotaEnforcer(cfg.MonthlyQuota)

	var pusher push.Sender
	if cfg.FCMServerKey != "" && cfg.FCMProjectID != "" {
		pusher = push.NewFCMClient(push.FCMConfig{
			ServerKey: cfg.FCMServerKey,
			ProjectID: cfg.FCMProjectID,
		})
	} else {
		log.Warn().Msg("FCM not configured, PIN push delivery disabled")
	}

	redemptionService := redemption.NewService(
		redemptionRepo,
		quota,
		&redemptionOfferAdapter{repo: offerRepo},
		&redemptionCustomerAdapter{repo: customerRepo},
		&redemptionMerchantAdapter{repo: merchantRepo},
		limiter,
		codec,
		pusher,
		nil, // wall clock
		redemption.Config{
			TokenTTL:       cfg.TokenTTL,
			MaxPinAttempts: cfg.MaxPinAttempts,
			PinLength:      cfg.PinLength,
			MonthlyQuota:   cfg.MonthlyQuota,
		},
	)

	// ---------- Handlers ----------
	offerHandler := offer.NewHandler(offerRepo)
	customerHandler := customer.NewHandler(customerRepo)
	redemptionHandler := redemption.NewHandler(redemptionService)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/offers", offerHandler.Routes(authMiddleware))
		r.Mount("/customers", customerHandler.Routes(authMiddleware))
		r.Mount("/redemptions", redemptionHandler.Routes(authMiddleware))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// Adapter implementations to bridge interface mismatches

// redemptionOfferAdapter adapts offer.Repository to redemption.OfferProvider
type redemptionOfferAdapter struct {
	repo offer.Repository
}

func (a *redemptionOfferAdapter) GetOffer(ctx context.Context, id uuid.UUID) (*redemption.OfferInfo, error) {
	o, err := a.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			// An unknown offer and a withdrawn one look the same to the caller
			return nil, redemption.ErrOfferInactive
		}
		return nil, err
	}

	return &redemption.OfferInfo{
		ID:           o.ID,
		MerchantID:   o.MerchantID,
		PointsCost:   o.PointsCost,
		MonthlyLimit: o.MonthlyLimit,
		Active:       o.IsActive(time.Now()),
	}, nil
}

// redemptionCustomerAdapter adapts customer.Repository to redemption.CustomerProvider
type redemptionCustomerAdapter struct {
	repo customer.Repository
}

func (a *redemptionCustomerAdapter) GetCustomer(ctx context.Context, id uuid.UUID) (*redemption.CustomerAccount, error) {
	c, err := a.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, customer.ErrCustomerNotFound) {
			return nil, redemption.ErrSubscriptionRequired
		}
		return nil, err
	}

	acct := &redemption.CustomerAccount{
		ID:     c.ID,
		Active: c.Active,
	}
	if c.DeviceToken.Valid {
		acct.DeviceToken = c.DeviceToken.String
	}
	return acct, nil
}

func (a *redemptionCustomerAdapter) DebitPointsTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, points int64) error {
	if err := a.repo.DebitPointsTx(ctx, tx, id, points); err != nil {
		if errors.Is(err, customer.ErrInsufficientBalance) {
			return redemption.ErrInsufficientBalance
		}
		return err
	}
	return nil
}

// redemptionMerchantAdapter adapts merchant.Repository to redemption.MerchantChecker
type redemptionMerchantAdapter struct {
	repo merchant.Repository
}

func (a *redemptionMerchantAdapter) InGoodStanding(ctx context.Context, id uuid.UUID) (bool, error) {
	m, err := a.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.InGoodStanding(), nil
}
