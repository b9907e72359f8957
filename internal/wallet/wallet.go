package wallet

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAddress           = errors.New("invalid bitcoin address")
	ErrInvalidAmount            = errors.New("withdrawal amount must be positive")
	ErrInsufficientAdminBalance = errors.New("insufficient admin wallet balance")
)

// DefaultNetworkFee is the flat BTC network fee charged per withdrawal.
var DefaultNetworkFee = decimal.RequireFromString("0.0001")

// ValidAddress reports whether s is a syntactically plausible Bitcoin
// address: length 26 to 62 with a legacy (1), script (3), or bech32 (bc1)
// prefix. Format check only, no checksum verification.
func ValidAddress(s string) bool {
	if len(s) < 26 || len(s) > 62 {
		return false
	}
	return strings.HasPrefix(s, "1") || strings.HasPrefix(s, "3") || strings.HasPrefix(s, "bc1")
}

// Withdrawal is the result of a successful admin wallet withdrawal.
type Withdrawal struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
	NewBalance  decimal.Decimal `json:"new_balance"`
}

// Withdraw debits amount plus networkFee from the admin wallet balance.
// Validation precedes mutation: on error the balance is unchanged. A
// completed withdrawal is irreversible; there is no compensating operation.
func Withdraw(balance decimal.Decimal, destination string, amount, networkFee decimal.Decimal) (Withdrawal, error) {
	if !ValidAddress(destination) {
		return Withdrawal{}, ErrInvalidAddress
	}
	if amount.LessThanOrEqual(decimal.Zero) || networkFee.IsNegative() {
		return Withdrawal{}, ErrInvalidAmount
	}
	total := amount.Add(networkFee)
	if total.GreaterThan(balance) {
		return Withdrawal{}, ErrInsufficientAdminBalance
	}
	return Withdrawal{
		Destination: destination,
		Amount:      amount,
		NetworkFee:  networkFee,
		NewBalance:  balance.Sub(total),
	}, nil
}
