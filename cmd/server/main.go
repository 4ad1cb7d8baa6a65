package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/trustbank/trade-api/internal/auth"
	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/database"
	"github.com/trustbank/trade-api/internal/exchange"
	"github.com/trustbank/trade-api/internal/kyc"
	"github.com/trustbank/trade-api/internal/payment"
	"github.com/trustbank/trade-api/internal/quotes"
	"github.com/trustbank/trade-api/internal/reconciler"
	"github.com/trustbank/trade-api/internal/trading"
	"github.com/trustbank/trade-api/internal/wallet"
	"github.com/trustbank/trade-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures application logging. Development gets pretty console
// output; DEBUG=true raises the global level.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the trade lifecycle services together and runs the API server
// with graceful shutdown. Collaborators are passed explicitly; there are no
// package-level singletons to swap out in tests.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Demo credentials; production registers real API keys out of band.
	authService.RegisterAPICredentials("test-api-key", "test-api-secret")

	exchangeClient := exchange.NewHTTPClient(cfg.ExchangeBaseURL, cfg.ExchangeAPIKey)

	quoteProvider := quotes.NewProvider(exchangeClient, cfg)
	quoteHandlers := quotes.NewGinHandlers(quoteProvider)

	walletService := wallet.NewService(db)
	walletHandlers := wallet.NewGinHandlers(walletService)

	kycService := kyc.NewService(db, cfg)
	kycHandlers := kyc.NewGinHandlers(kycService)

	paymentAdapter := payment.NewAdapter(exchangeClient)

	tradingService := trading.NewService(db, quoteProvider, walletService, kycService, paymentAdapter, cfg)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	reconcilerService := reconciler.NewService(tradingService, paymentAdapter, cfg.WebhookSecret, db)
	reconcilerHandlers := reconciler.NewGinHandlers(reconcilerService)

	// Background polling fallback and confirming-timeout sweep
	processor := reconciler.NewProcessor(reconcilerService, cfg)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()
	go processor.Start(processorCtx)

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg, authHandlers, quoteHandlers, tradingHandlers, walletHandlers, kycHandlers, reconcilerHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints:
// - Auth routes: public token issuance
// - Quote/trade/wallet routes: protected by JWT
// - Webhook route: public, authenticated by payload signature
// - Internal routes: operator endpoints behind internal auth
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	quoteHandlers *quotes.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	walletHandlers *wallet.GinHandlers,
	kycHandlers *kyc.GinHandlers,
	reconcilerHandlers *reconciler.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		user := v1.Group("")
		user.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			user.GET("/quotes", quoteHandlers.GetQuoteHandler())
			user.POST("/trades", tradingHandlers.CreateTradeHandler())
			user.GET("/trades", tradingHandlers.ListTradesHandler())
			user.GET("/trades/:trade_id", tradingHandlers.GetTradeHandler())
			user.GET("/wallets/:currency", walletHandlers.GetWalletHandler())
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/exchange", reconcilerHandlers.WebhookHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.JWTSecret))
		{
			internal.POST("/reconcile/:trade_id", reconcilerHandlers.ReconcileTradeHandler())
			internal.POST("/wallets/:user_id/credit", walletHandlers.CreditHandler())
			internal.POST("/kyc/:user_id/tier", kycHandlers.SetTierHandler())
		}
	}
}
