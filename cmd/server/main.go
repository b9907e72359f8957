package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teslabit/tradesim/internal/api"
	"github.com/teslabit/tradesim/internal/auth"
	"github.com/teslabit/tradesim/internal/config"
	"github.com/teslabit/tradesim/internal/db"
	"github.com/teslabit/tradesim/internal/models"
	"github.com/teslabit/tradesim/internal/oracle"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handles origin policy
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type broadcaster struct {
	prices api.Prices
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newBroadcaster(prices api.Prices, logger *zap.Logger) *broadcaster {
	return &broadcaster{
		prices:  prices,
		logger:  logger,
		clients: make(map[*wsClient]bool),
	}
}

// broadcast pushes the current quotes to every connected client. Best
// effort: dead clients are dropped, delivery is not guaranteed.
func (b *broadcaster) broadcast(ctx context.Context) {
	tesla, terr := b.prices.GetQuote(ctx, models.AssetTesla)
	bitcoin, berr := b.prices.GetQuote(ctx, models.AssetBitcoin)
	if terr != nil || berr != nil {
		return
	}

	data, err := json.Marshal(map[string]models.Quote{
		"tesla":   tesla,
		"bitcoin": bitcoin,
	})
	if err != nil {
		b.logger.Error("failed to marshal quotes", zap.Error(err))
		return
	}

	b.mu.RLock()
	var dead []*wsClient
	for client := range b.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			dead = append(dead, client)
		}
	}
	b.mu.RUnlock()

	if len(dead) > 0 {
		b.mu.Lock()
		for _, client := range dead {
			delete(b.clients, client)
		}
		b.mu.Unlock()
	}
}

func (b *broadcaster) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	b.mu.Lock()
	b.clients[client] = true
	b.mu.Unlock()

	b.broadcast(r.Context())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.mu.Lock()
			delete(b.clients, client)
			b.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer database.Close()

	prices := oracle.New(
		map[models.Asset]oracle.Provider{
			models.AssetBitcoin: oracle.NewCoinGeckoProvider(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey),
			models.AssetTesla:   oracle.NewFMPProvider(cfg.FMPURL, cfg.FMPAPIKey),
		},
		map[models.Asset]time.Duration{
			models.AssetBitcoin: cfg.BitcoinQuoteTTL,
			models.AssetTesla:   cfg.TeslaQuoteTTL,
		},
		oracle.NewSimulator(cfg.SimVolatility),
		logger,
	)

	authService := auth.NewAuthService(database, cfg.JWTSecret)

	handler, err := api.NewHandler(database, authService, prices, logger, cfg.OverviewCacheTTL)
	if err != nil {
		logger.Fatal("handler", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	b := newBroadcaster(prices, logger)
	r.Get("/ws", b.handleWebSocket)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/market/bitcoin", handler.GetBitcoinQuote)
	r.Get("/market/tesla", handler.GetTeslaQuote)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Post("/trading/execute", handler.ExecuteTrade)
		r.Get("/trading/history", handler.GetTransactionHistory)
		r.Post("/wallet/purchase", handler.PurchaseBitcoin)

		// Admin-only
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireAdmin)
			r.Post("/wallet/withdraw", handler.WithdrawBitcoin)
			r.Get("/admin/overview", handler.GetAdminOverview)
		})
	})

	go func() {
		ticker := time.NewTicker(cfg.BroadcastEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.broadcast(ctx)
			}
		}
	}()

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("http listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = server.Shutdown(ctxShut)
	logger.Info("shutdown complete")
}
