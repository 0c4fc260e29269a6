// Package execution applies triggered orders to cash and positions.
package execution

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/backtester/internal/ledger"
)

// Account is the cash and ledger an Engine mutates.
type Account struct {
	Cash   decimal.Decimal
	Ledger *ledger.Ledger
}

// NewAccount creates an account holding cash and no positions.
func NewAccount(cash decimal.Decimal) *Account {
	return &Account{
		Cash:   cash,
		Ledger: ledger.New(),
	}
}

// Equity returns cash plus the value of all positions at marks.
func (a *Account) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	return a.Cash.Add(a.Ledger.MarketValue(marks))
}
