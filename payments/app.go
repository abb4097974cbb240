package payments

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	"github.com/techcorp/payment-core/fraud"
	"github.com/techcorp/payment-core/gateway"
	"github.com/techcorp/payment-core/gateway/card"
	"github.com/techcorp/payment-core/gateway/paypal"
	"github.com/techcorp/payment-core/gateway/wallet"
	"github.com/techcorp/payment-core/internal/metrics"
	"github.com/techcorp/payment-core/internal/middleware"
	"github.com/techcorp/payment-core/payments/models"
	"github.com/techcorp/payment-core/vault"
)

// App wires the payment core together and owns the lifecycle of its
// components.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	closers []io.Closer
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "payments"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	var repository *Repository
	switch backend := getenv("REPO_BACKEND", "mem"); backend {
	case "pg":
		dsn := getenv("DB_DSN", "")
		if dsn == "" {
			return fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		hashKey := []byte(getenv("SOURCE_HASH_KEY", "dev-secret-pepper"))
		repository = NewPGRepository(db, hashKey)
	case "mem":
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported REPO_BACKEND=%s", backend)
	}

	keys, err := vaultKeysFromEnv()
	if err != nil {
		return fmt.Errorf("vault keys: %w", err)
	}
	vlt := vault.New(keys)

	dispatcher := gateway.NewDispatcher()
	if addr := getenv("CARD_PROCESSOR_ADDR", a.config.CardProcessorAddr); addr != "" {
		client, err := card.NewClient(addr)
		if err != nil {
			return fmt.Errorf("card processor: %w", err)
		}
		dispatcher.Register(models.MethodCard, client)
		a.closers = append(a.closers, client)
	}
	if base := getenv("PAYPAL_BASE_URL", a.config.PayPalBaseURL); base != "" {
		dispatcher.Register(models.MethodPayPal, paypal.New(base, nil))
	}
	if base := getenv("WALLET_BASE_URL", a.config.WalletBaseURL); base != "" {
		dispatcher.Register(models.MethodWallet, wallet.New(base, nil))
	}

	metrics.Register()

	service := NewService(repository, fraud.NewEngine(a.config.Fraud), dispatcher, vlt, a.config, a.logger)

	api := NewAPI(service, vlt)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	l, err := net.Listen("tcp", getenv("HTTP_ADDR", a.config.HTTPAddr))
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Error("closing component", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}

// vaultKeysFromEnv builds the key provider from VAULT_KEY_HEX and the
// comma-separated VAULT_PREVIOUS_KEYS_HEX rotation window. Without the env
// var a fixed development key is used.
func vaultKeysFromEnv() (vault.KeyProvider, error) {
	active := []byte(getenv("VAULT_DEV_KEY", "0123456789abcdef0123456789abcdef"))
	if h := os.Getenv("VAULT_KEY_HEX"); h != "" {
		k, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("decoding VAULT_KEY_HEX: %w", err)
		}
		active = k
	}

	var previous [][]byte
	for _, h := range strings.Split(os.Getenv("VAULT_PREVIOUS_KEYS_HEX"), ",") {
		if h == "" {
			continue
		}
		k, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("decoding VAULT_PREVIOUS_KEYS_HEX: %w", err)
		}
		previous = append(previous, k)
	}

	return vault.NewStaticKeyProvider(active, previous...), nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
