package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/teslabit/tradesim/internal/models"
)

// Bitcoin amounts are kept at satoshi precision.
const btcScale = 8

var (
	ErrInsufficientBalance = errors.New("insufficient bitcoin balance")
	ErrInvalidShareCount   = errors.New("share count must be positive")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidFeeRate      = errors.New("fee rate must be in [0, 1)")
	ErrInvalidQuote        = errors.New("quote price must be positive")
)

// Payment method fee rates, charged in USD on top of the purchase amount.
// The fee is informational only and never touches the holding.
var (
	FeeRateCard = decimal.RequireFromString("0.025")
	FeeRateBank = decimal.RequireFromString("0.015")
)

// FeeRateFor maps a payment method name to its fee rate. Unknown methods get
// the card rate, the more conservative of the two.
func FeeRateFor(method string) decimal.Decimal {
	if method == "bank" {
		return FeeRateBank
	}
	return FeeRateCard
}

// TradeReceipt is the result of a successful share purchase.
type TradeReceipt struct {
	Holding    models.Holding  `json:"holding"`
	UsdCost    decimal.Decimal `json:"usd_cost"`
	BtcDebited decimal.Decimal `json:"btc_debited"`
}

// PurchaseReceipt is the result of a successful bitcoin purchase.
type PurchaseReceipt struct {
	Holding     models.Holding  `json:"holding"`
	BtcCredited decimal.Decimal `json:"btc_credited"`
	Fee         decimal.Decimal `json:"fee"`
	UsdTotal    decimal.Decimal `json:"usd_total"`
}

// BuyShares converts part of a holding's bitcoin balance into Tesla shares at
// the given quotes. Validation happens entirely before mutation: on any error
// the returned receipt is zero and the input holding is untouched. On success
// the share credit, the bitcoin debit, and the cost basis increment are all
// applied to the returned holding together.
func BuyShares(h models.Holding, shareCount int64, tesla, bitcoin models.Quote) (TradeReceipt, error) {
	if shareCount <= 0 {
		return TradeReceipt{}, ErrInvalidShareCount
	}
	if tesla.Price <= 0 || bitcoin.Price <= 0 {
		return TradeReceipt{}, ErrInvalidQuote
	}

	usdCost := decimal.NewFromFloat(tesla.Price).Mul(decimal.NewFromInt(shareCount))
	btcRequired := usdCost.DivRound(decimal.NewFromFloat(bitcoin.Price), btcScale)

	if h.BitcoinBalance.LessThan(btcRequired) {
		return TradeReceipt{}, ErrInsufficientBalance
	}

	h.TeslaShares += shareCount
	h.BitcoinBalance = h.BitcoinBalance.Sub(btcRequired)
	h.CumulativeUsdCost = h.CumulativeUsdCost.Add(usdCost)

	return TradeReceipt{Holding: h, UsdCost: usdCost, BtcDebited: btcRequired}, nil
}

// BuyBitcoin credits a holding with bitcoin bought for usdAmount at the given
// quote. The fee is charged in USD on top of usdAmount and does not reduce
// the credited bitcoin.
func BuyBitcoin(h models.Holding, usdAmount decimal.Decimal, bitcoin models.Quote, feeRate decimal.Decimal) (PurchaseReceipt, error) {
	if usdAmount.LessThanOrEqual(decimal.Zero) {
		return PurchaseReceipt{}, ErrInvalidAmount
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return PurchaseReceipt{}, ErrInvalidFeeRate
	}
	if bitcoin.Price <= 0 {
		return PurchaseReceipt{}, ErrInvalidQuote
	}

	btcCredited := usdAmount.DivRound(decimal.NewFromFloat(bitcoin.Price), btcScale)
	fee := usdAmount.Mul(feeRate)

	h.BitcoinBalance = h.BitcoinBalance.Add(btcCredited)

	return PurchaseReceipt{
		Holding:     h,
		BtcCredited: btcCredited,
		Fee:         fee,
		UsdTotal:    usdAmount.Add(fee),
	}, nil
}

// Valuate computes the holding's USD value and allocation split at current
// prices. Never mutates state. When the total value is zero both percentages
// are zero; otherwise the bitcoin percentage is the exact complement of the
// tesla percentage so the two always sum to 100.
func Valuate(h models.Holding, tesla, bitcoin models.Quote) models.Valuation {
	teslaValue := decimal.NewFromFloat(tesla.Price).Mul(decimal.NewFromInt(h.TeslaShares))
	bitcoinValue := h.BitcoinBalance.Mul(decimal.NewFromFloat(bitcoin.Price))
	total := teslaValue.Add(bitcoinValue)

	v := models.Valuation{
		TeslaValueUsd:   teslaValue,
		BitcoinValueUsd: bitcoinValue,
		TotalValueUsd:   total,
	}
	if total.IsPositive() {
		hundred := decimal.NewFromInt(100)
		v.TeslaAllocationPct = teslaValue.Mul(hundred).DivRound(total, 4)
		v.BitcoinAllocationPct = hundred.Sub(v.TeslaAllocationPct)
	} else {
		v.TeslaAllocationPct = decimal.Zero
		v.BitcoinAllocationPct = decimal.Zero
	}
	return v
}
