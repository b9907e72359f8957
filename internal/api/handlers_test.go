package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/teslabit/tradesim/internal/ledger"
	"github.com/teslabit/tradesim/internal/models"
	"github.com/teslabit/tradesim/internal/wallet"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetHolding(ctx context.Context, userID uuid.UUID) (models.Holding, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Holding), args.Error(1)
}

func (m *MockStore) PurchaseTeslaShares(ctx context.Context, userID uuid.UUID, shareCount int64, tesla, bitcoin models.Quote) (ledger.TradeReceipt, error) {
	args := m.Called(ctx, userID, shareCount, tesla, bitcoin)
	return args.Get(0).(ledger.TradeReceipt), args.Error(1)
}

func (m *MockStore) PurchaseBitcoin(ctx context.Context, userID uuid.UUID, usdAmount decimal.Decimal, bitcoin models.Quote, feeRate decimal.Decimal) (ledger.PurchaseReceipt, error) {
	args := m.Called(ctx, userID, usdAmount, bitcoin, feeRate)
	return args.Get(0).(ledger.PurchaseReceipt), args.Error(1)
}

func (m *MockStore) WithdrawBitcoin(ctx context.Context, adminID uuid.UUID, destination string, amount, networkFee decimal.Decimal) (wallet.Withdrawal, error) {
	args := m.Called(ctx, adminID, destination, amount, networkFee)
	return args.Get(0).(wallet.Withdrawal), args.Error(1)
}

func (m *MockStore) GetUserTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockStore) Overview(ctx context.Context) (models.Overview, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Overview), args.Error(1)
}

type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) Register(ctx context.Context, identifier, name, password string) (*models.User, error) {
	args := m.Called(ctx, identifier, name, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockIdentity) Login(ctx context.Context, identifier, password string) (string, *models.User, error) {
	args := m.Called(ctx, identifier, password)
	if args.Get(1) == nil {
		return "", nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*models.User), args.Error(2)
}

func (m *MockIdentity) UserFromToken(token string) (uuid.UUID, models.Role, error) {
	args := m.Called(token)
	return args.Get(0).(uuid.UUID), args.Get(1).(models.Role), args.Error(2)
}

type MockPrices struct {
	mock.Mock
}

func (m *MockPrices) GetQuote(ctx context.Context, asset models.Asset) (models.Quote, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(models.Quote), args.Error(1)
}

type fixture struct {
	store    *MockStore
	identity *MockIdentity
	prices   *MockPrices
	router   *chi.Mux
	userID   uuid.UUID
}

func newFixture(t *testing.T, role models.Role) *fixture {
	f := &fixture{
		store:    new(MockStore),
		identity: new(MockIdentity),
		prices:   new(MockPrices),
		userID:   uuid.New(),
	}

	h, err := NewHandler(f.store, f.identity, f.prices, zap.NewNop(), time.Minute)
	assert.NoError(t, err)

	f.identity.On("UserFromToken", "good-token").Return(f.userID, role, nil).Maybe()

	r := chi.NewRouter()
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/portfolio", h.GetPortfolio)
		r.Post("/trading/execute", h.ExecuteTrade)
		r.Get("/trading/history", h.GetTransactionHistory)
		r.Post("/wallet/purchase", h.PurchaseBitcoin)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Post("/wallet/withdraw", h.WithdrawBitcoin)
			r.Get("/admin/overview", h.GetAdminOverview)
		})
	})
	f.router = r
	return f
}

func (f *fixture) do(method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer good-token")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func stubQuotes(f *fixture) (tesla, bitcoin models.Quote) {
	tesla = models.Quote{Asset: models.AssetTesla, Price: 248.42}
	bitcoin = models.Quote{Asset: models.AssetBitcoin, Price: 43250.50}
	f.prices.On("GetQuote", mock.Anything, models.AssetTesla).Return(tesla, nil)
	f.prices.On("GetQuote", mock.Anything, models.AssetBitcoin).Return(bitcoin, nil)
	return
}

func TestExecuteTrade(t *testing.T) {
	t.Run("places a valid trade", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		tesla, bitcoin := stubQuotes(f)

		receipt := ledger.TradeReceipt{
			Holding:    models.Holding{UserID: f.userID, TeslaShares: 10},
			UsdCost:    decimal.RequireFromString("2484.2"),
			BtcDebited: decimal.RequireFromString("0.05743748"),
		}
		f.store.On("PurchaseTeslaShares", mock.Anything, f.userID, int64(10), tesla, bitcoin).
			Return(receipt, nil)

		rec := f.do(http.MethodPost, "/trading/execute", map[string]any{"shares": 10}, true)
		assert.Equal(t, http.StatusCreated, rec.Code)
		f.store.AssertExpectations(t)
	})

	t.Run("insufficient balance maps to 400", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		stubQuotes(f)
		f.store.On("PurchaseTeslaShares", mock.Anything, f.userID, int64(10), mock.Anything, mock.Anything).
			Return(ledger.TradeReceipt{}, ledger.ErrInsufficientBalance)

		rec := f.do(http.MethodPost, "/trading/execute", map[string]any{"shares": 10}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "insufficient bitcoin balance")
	})

	t.Run("rejects out-of-bound share counts before the store", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		for _, shares := range []int64{0, -5, 101} {
			rec := f.do(http.MethodPost, "/trading/execute", map[string]any{"shares": shares}, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
		f.store.AssertNotCalled(t, "PurchaseTeslaShares")
	})

	t.Run("requires a token", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		rec := f.do(http.MethodPost, "/trading/execute", map[string]any{"shares": 10}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestPurchaseBitcoin(t *testing.T) {
	t.Run("buys bitcoin with the card fee rate", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		bitcoin := models.Quote{Asset: models.AssetBitcoin, Price: 43250.50}
		f.prices.On("GetQuote", mock.Anything, models.AssetBitcoin).Return(bitcoin, nil)

		receipt := ledger.PurchaseReceipt{
			Holding:     models.Holding{UserID: f.userID},
			BtcCredited: decimal.RequireFromString("0.00231211"),
			Fee:         decimal.RequireFromString("2.5"),
		}
		f.store.On("PurchaseBitcoin", mock.Anything, f.userID,
			decimal.NewFromFloat(100.0), bitcoin, ledger.FeeRateCard).
			Return(receipt, nil)

		rec := f.do(http.MethodPost, "/wallet/purchase",
			map[string]any{"amount": 100, "payment_method": "card"}, true)
		assert.Equal(t, http.StatusCreated, rec.Code)
		f.store.AssertExpectations(t)
	})

	t.Run("rejects amounts outside [10, 10000]", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		for _, amount := range []float64{0, 5, 10001} {
			rec := f.do(http.MethodPost, "/wallet/purchase",
				map[string]any{"amount": amount, "payment_method": "card"}, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
		f.store.AssertNotCalled(t, "PurchaseBitcoin")
	})
}

func TestWithdrawBitcoin(t *testing.T) {
	dest := "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

	t.Run("admin can withdraw", func(t *testing.T) {
		f := newFixture(t, models.RoleAdmin)
		f.store.On("WithdrawBitcoin", mock.Anything, f.userID, dest,
			decimal.NewFromFloat(0.5), wallet.DefaultNetworkFee).
			Return(wallet.Withdrawal{
				Destination: dest,
				Amount:      decimal.NewFromFloat(0.5),
				NetworkFee:  wallet.DefaultNetworkFee,
				NewBalance:  decimal.RequireFromString("11.95668"),
			}, nil)

		rec := f.do(http.MethodPost, "/wallet/withdraw",
			map[string]any{"address": dest, "amount": 0.5}, true)
		assert.Equal(t, http.StatusCreated, rec.Code)
		f.store.AssertExpectations(t)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		rec := f.do(http.MethodPost, "/wallet/withdraw",
			map[string]any{"address": dest, "amount": 0.5}, true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		f.store.AssertNotCalled(t, "WithdrawBitcoin")
	})

	t.Run("over-balance withdrawal maps to 400", func(t *testing.T) {
		f := newFixture(t, models.RoleAdmin)
		f.store.On("WithdrawBitcoin", mock.Anything, f.userID, dest,
			mock.Anything, mock.Anything).
			Return(wallet.Withdrawal{}, wallet.ErrInsufficientAdminBalance)

		rec := f.do(http.MethodPost, "/wallet/withdraw",
			map[string]any{"address": dest, "amount": 12.5}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetPortfolio(t *testing.T) {
	f := newFixture(t, models.RoleUser)
	stubQuotes(f)

	holding := models.Holding{
		UserID:         f.userID,
		TeslaShares:    12,
		BitcoinBalance: decimal.RequireFromString("1.5"),
	}
	f.store.On("GetHolding", mock.Anything, f.userID).Return(holding, nil)

	rec := f.do(http.MethodGet, "/portfolio", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Valuation models.Valuation `json:"valuation"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	sum := resp.Valuation.TeslaAllocationPct.Add(resp.Valuation.BitcoinAllocationPct)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)), "pcts sum to %s", sum)
}

func TestLogin(t *testing.T) {
	t.Run("returns token and portfolio", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		user := &models.User{ID: f.userID, Email: "user1@demo.com", Name: "John Smith", Role: models.RoleUser}
		f.identity.On("Login", mock.Anything, "user1@demo.com", "password1").
			Return("signed-token", user, nil)
		f.store.On("GetHolding", mock.Anything, f.userID).
			Return(models.Holding{UserID: f.userID}, nil)

		rec := f.do(http.MethodPost, "/auth/login",
			map[string]any{"identifier": "user1@demo.com", "password": "password1"}, false)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "signed-token")
	})

	t.Run("bad credentials map to 401", func(t *testing.T) {
		f := newFixture(t, models.RoleUser)
		f.identity.On("Login", mock.Anything, mock.Anything, mock.Anything).
			Return("", nil, assert.AnError)

		rec := f.do(http.MethodPost, "/auth/login",
			map[string]any{"identifier": "user1@demo.com", "password": "wrong"}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetTransactionHistory(t *testing.T) {
	f := newFixture(t, models.RoleUser)
	f.store.On("GetUserTransactions", mock.Anything, f.userID, 50).
		Return([]models.Transaction(nil), nil)

	rec := f.do(http.MethodGet, "/trading/history", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	// empty history serializes as [] rather than null
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetAdminOverview(t *testing.T) {
	f := newFixture(t, models.RoleAdmin)
	f.store.On("Overview", mock.Anything).Return(models.Overview{
		TotalTeslaShares: 302,
		TotalBitcoin:     decimal.RequireFromString("9.0134"),
		WalletBalance:    decimal.RequireFromString("5.5"),
	}, nil).Once()

	rec := f.do(http.MethodGet, "/admin/overview", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "302")
}
