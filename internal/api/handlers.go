package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teslabit/tradesim/internal/ledger"
	"github.com/teslabit/tradesim/internal/models"
	"github.com/teslabit/tradesim/internal/wallet"
)

// Presentation-layer bounds. The ledger enforces only positivity; these are
// the tighter UI limits.
const (
	minShares      = 1
	maxShares      = 100
	minPurchaseUsd = 10
	maxPurchaseUsd = 10000
)

const overviewCacheKey = "overview"

// Store is the persistence surface the handlers need.
type Store interface {
	GetHolding(ctx context.Context, userID uuid.UUID) (models.Holding, error)
	PurchaseTeslaShares(ctx context.Context, userID uuid.UUID, shareCount int64, tesla, bitcoin models.Quote) (ledger.TradeReceipt, error)
	PurchaseBitcoin(ctx context.Context, userID uuid.UUID, usdAmount decimal.Decimal, bitcoin models.Quote, feeRate decimal.Decimal) (ledger.PurchaseReceipt, error)
	WithdrawBitcoin(ctx context.Context, adminID uuid.UUID, destination string, amount, networkFee decimal.Decimal) (wallet.Withdrawal, error)
	GetUserTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
	Overview(ctx context.Context) (models.Overview, error)
}

// Identity is the identity-provider surface the handlers need.
type Identity interface {
	Register(ctx context.Context, identifier, name, password string) (*models.User, error)
	Login(ctx context.Context, identifier, password string) (string, *models.User, error)
	UserFromToken(token string) (uuid.UUID, models.Role, error)
}

// Prices is the price oracle surface the handlers need.
type Prices interface {
	GetQuote(ctx context.Context, asset models.Asset) (models.Quote, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store    Store
	Identity Identity
	Prices   Prices
	Logger   *zap.Logger

	overviewCache *ristretto.Cache
	overviewTTL   time.Duration
}

// NewHandler creates a new handler. overviewTTL bounds how stale the cached
// admin overview may get.
func NewHandler(store Store, identity Identity, prices Prices, logger *zap.Logger, overviewTTL time.Duration) (*Handler, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Handler{
		Store:         store,
		Identity:      identity,
		Prices:        prices,
		Logger:        logger,
		overviewCache: cache,
		overviewTTL:   overviewTTL,
	}, nil
}

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Name       string `json:"name"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.Identity.Register(r.Context(), req.Identifier, req.Name, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"phone": user.Phone,
		"name":  user.Name,
		"role":  user.Role,
	})
}

// Login handles user login and returns a token plus the user's portfolio.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := h.Identity.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	holding, err := h.Store.GetHolding(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
			"phone": user.Phone,
			"name":  user.Name,
			"role":  user.Role,
		},
		"portfolio": holding,
	})
}

// JWTAuthMiddleware verifies bearer tokens and stores the caller's identity
// in the request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, role, err := h.Identity.UserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates admin-only endpoints.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(ctxRole).(models.Role)
		if !ok || role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(ctxUserID).(uuid.UUID)
	return id, ok
}

// quotes snapshots both asset prices once; the snapshot is applied
// consistently within a single operation, never re-fetched mid-operation.
func (h *Handler) quotes(ctx context.Context) (tesla, bitcoin models.Quote, err error) {
	tesla, err = h.Prices.GetQuote(ctx, models.AssetTesla)
	if err != nil {
		return
	}
	bitcoin, err = h.Prices.GetQuote(ctx, models.AssetBitcoin)
	return
}

// GetPortfolio returns the caller's holding with a fresh valuation.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	holding, err := h.Store.GetHolding(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	tesla, bitcoin, err := h.quotes(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"holding":   holding,
		"valuation": ledger.Valuate(holding, tesla, bitcoin),
		"quotes": map[string]models.Quote{
			"tesla":   tesla,
			"bitcoin": bitcoin,
		},
	})
}

// ExecuteTrade buys Tesla shares with the caller's bitcoin balance.
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Shares int64 `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Shares < minShares || req.Shares > maxShares {
		writeError(w, http.StatusBadRequest, "shares must be between 1 and 100")
		return
	}

	tesla, bitcoin, err := h.quotes(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}

	receipt, err := h.Store.PurchaseTeslaShares(r.Context(), userID, req.Shares, tesla, bitcoin)
	if err != nil {
		h.tradeError(w, err)
		return
	}

	h.overviewCache.Del(overviewCacheKey)
	writeJSON(w, http.StatusCreated, receipt)
}

// PurchaseBitcoin buys bitcoin for USD and credits the caller's balance.
func (h *Handler) PurchaseBitcoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Amount        float64 `json:"amount"`
		PaymentMethod string  `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount < minPurchaseUsd || req.Amount > maxPurchaseUsd {
		writeError(w, http.StatusBadRequest, "amount must be between 10 and 10000 USD")
		return
	}

	bitcoin, err := h.Prices.GetQuote(r.Context(), models.AssetBitcoin)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}

	receipt, err := h.Store.PurchaseBitcoin(r.Context(), userID,
		decimal.NewFromFloat(req.Amount), bitcoin, ledger.FeeRateFor(req.PaymentMethod))
	if err != nil {
		h.tradeError(w, err)
		return
	}

	h.overviewCache.Del(overviewCacheKey)
	writeJSON(w, http.StatusCreated, receipt)
}

// WithdrawBitcoin sends bitcoin from the admin custody wallet. Admin only.
func (h *Handler) WithdrawBitcoin(w http.ResponseWriter, r *http.Request) {
	adminID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Address    string   `json:"address"`
		Amount     float64  `json:"amount"`
		NetworkFee *float64 `json:"network_fee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	networkFee := wallet.DefaultNetworkFee
	if req.NetworkFee != nil {
		networkFee = decimal.NewFromFloat(*req.NetworkFee)
	}

	withdrawal, err := h.Store.WithdrawBitcoin(r.Context(), adminID,
		req.Address, decimal.NewFromFloat(req.Amount), networkFee)
	if err != nil {
		h.tradeError(w, err)
		return
	}

	h.overviewCache.Del(overviewCacheKey)
	h.Logger.Info("bitcoin withdrawal",
		zap.String("admin_id", adminID.String()),
		zap.String("destination", withdrawal.Destination),
		zap.String("amount", withdrawal.Amount.String()))
	writeJSON(w, http.StatusCreated, withdrawal)
}

// GetTransactionHistory returns the caller's audit trail, newest first.
func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	txs, err := h.Store.GetUserTransactions(r.Context(), userID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve transactions")
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetBitcoinQuote returns the current bitcoin quote.
func (h *Handler) GetBitcoinQuote(w http.ResponseWriter, r *http.Request) {
	h.quoteResponse(w, r, models.AssetBitcoin)
}

// GetTeslaQuote returns the current tesla quote.
func (h *Handler) GetTeslaQuote(w http.ResponseWriter, r *http.Request) {
	h.quoteResponse(w, r, models.AssetTesla)
}

func (h *Handler) quoteResponse(w http.ResponseWriter, r *http.Request, asset models.Asset) {
	quote, err := h.Prices.GetQuote(r.Context(), asset)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetAdminOverview returns the aggregate platform view. Cached briefly since
// it scans every holding.
func (h *Handler) GetAdminOverview(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.overviewCache.Get(overviewCacheKey); ok {
		writeJSON(w, http.StatusOK, cached.(models.Overview))
		return
	}

	overview, err := h.Store.Overview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load overview")
		return
	}

	h.overviewCache.SetWithTTL(overviewCacheKey, overview, 1, h.overviewTTL)
	writeJSON(w, http.StatusOK, overview)
}

// tradeError maps domain errors onto HTTP statuses. Everything the user can
// fix is a 400; unexpected store failures are 500s.
func (h *Handler) tradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidShareCount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidFeeRate),
		errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInsufficientAdminBalance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInvalidQuote):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}
