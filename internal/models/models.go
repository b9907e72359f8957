package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role determines which endpoints a user may call
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Asset identifies a priced asset
type Asset string

const (
	AssetBitcoin Asset = "BTC"
	AssetTesla   Asset = "TSLA"
)

// User represents a registered user. Exactly one of Email or Phone is set,
// depending on which identifier was used at registration.
type User struct {
	ID           uuid.UUID
	Email        string
	Phone        string
	Name         string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Holding is a user's portfolio: Tesla share count, Bitcoin balance, and the
// running USD cost basis credited on each share purchase. CumulativeUsdCost
// only ever increases; it is not a live valuation.
type Holding struct {
	UserID            uuid.UUID       `json:"user_id"`
	TeslaShares       int64           `json:"tesla_shares"`
	BitcoinBalance    decimal.Decimal `json:"bitcoin_balance"`
	CumulativeUsdCost decimal.Decimal `json:"cumulative_usd_cost"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Quote is a point-in-time price for an asset. Stale is set when the quote
// came from the cache or the local simulator rather than the upstream API.
type Quote struct {
	Asset            Asset     `json:"asset"`
	Price            float64   `json:"price"`
	Change24h        float64   `json:"change_24h"`
	ChangePercent24h float64   `json:"change_percent_24h"`
	Volume           float64   `json:"volume"`
	MarketCap        float64   `json:"market_cap,omitempty"`
	AsOf             time.Time `json:"as_of"`
	Stale            bool      `json:"stale"`
}

// TransactionKind classifies audit trail entries
type TransactionKind string

const (
	TxTeslaBuy      TransactionKind = "tesla_buy"
	TxBitcoinBuy    TransactionKind = "btc_purchase"
	TxBitcoinOutlay TransactionKind = "btc_withdrawal"
)

// Transaction is one append-only audit record. Shares is zero for Bitcoin
// operations; Fee is the informational USD fee on purchases or the BTC
// network fee on withdrawals.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Kind      TransactionKind `json:"kind"`
	Shares    int64           `json:"shares,omitempty"`
	UsdAmount decimal.Decimal `json:"usd_amount"`
	BtcAmount decimal.Decimal `json:"btc_amount"`
	Fee       decimal.Decimal `json:"fee"`
	CreatedAt time.Time       `json:"created_at"`
}

// UserSummary is one row of the admin overview.
type UserSummary struct {
	UserID         uuid.UUID       `json:"user_id"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Name           string          `json:"name"`
	TeslaShares    int64           `json:"tesla_shares"`
	BitcoinBalance decimal.Decimal `json:"bitcoin_balance"`
}

// Overview is the admin panel aggregate: every user's holding, platform
// totals, the custody wallet balance, and the latest purchases.
type Overview struct {
	Users            []UserSummary   `json:"users"`
	TotalTeslaShares int64           `json:"total_tesla_shares"`
	TotalBitcoin     decimal.Decimal `json:"total_bitcoin"`
	WalletBalance    decimal.Decimal `json:"wallet_balance"`
	RecentPurchases  []Transaction   `json:"recent_purchases"`
}

// Valuation is the dashboard view of a holding at current prices. Derived,
// never persisted. The two allocation percentages sum to exactly 100 when
// TotalValueUsd is positive and are both zero otherwise.
type Valuation struct {
	TeslaValueUsd        decimal.Decimal `json:"tesla_value_usd"`
	BitcoinValueUsd      decimal.Decimal `json:"bitcoin_value_usd"`
	TotalValueUsd        decimal.Decimal `json:"total_value_usd"`
	TeslaAllocationPct   decimal.Decimal `json:"tesla_allocation_pct"`
	BitcoinAllocationPct decimal.Decimal `json:"bitcoin_allocation_pct"`
}
