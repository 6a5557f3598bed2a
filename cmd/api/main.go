package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkpass/internal/clients"
	"inkpass/internal/config"
	"inkpass/internal/content"
	"inkpass/internal/httpapi"
	"inkpass/internal/logger"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ledgerURL, err := url.Parse(getEnv("LEDGER_SERVICE_URL", "http://localhost:8080"))
	if err != nil {
		zapLog.Fatal("invalid ledger url", zap.Error(err))
	}

	guard := content.NewGuard(clients.NewAccessClient(ledgerURL.String()), log)
	router := newGateway(ledgerURL, content.NewLibrary(guard),
		rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst))

	srv := &http.Server{
		Addr:              ":" + getEnv("GATEWAY_PORT", "8090"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("gateway listening", map[string]interface{}{"addr": srv.Addr, "ledger": ledgerURL.String()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("gateway failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLog.Error("gateway forced to shutdown", zap.Error(err))
	}
}

// newGateway serves gated content itself and forwards ledger traffic.
func newGateway(ledgerURL *url.URL, library *content.Library, limiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpapi.RateLimit(limiter))
		content.NewHandler(library).Routes(r)
		r.Handle("/ledger/*", http.StripPrefix("/api/v1/ledger", httputil.NewSingleHostReverseProxy(ledgerURL)))
	})
	return r
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
