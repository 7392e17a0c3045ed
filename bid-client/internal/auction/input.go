package auction

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

var ErrInvalidBid = errors.New("enter a bid amount greater than zero")

// Digits with an optional point and at most two fractional digits. The empty
// string matches so the field can be cleared.
var bidInputPattern = regexp.MustCompile(`^\d*\.?\d{0,2}$`)

// ValidBidInput reports whether s may be shown in the bid field.
func ValidBidInput(s string) bool {
	return bidInputPattern.MatchString(s)
}

// SetBidInput replaces the bid field with s. Rejected input leaves the field
// unchanged.
func (v *View) SetBidInput(s string) bool {
	if !ValidBidInput(s) {
		return false
	}
	v.mu.Lock()
	v.nextBid = s
	v.mu.Unlock()
	return true
}

// ParseBidInput converts the bid field to an amount.
func ParseBidInput(s string) (decimal.Decimal, error) {
	if !ValidBidInput(s) || s == "" || s == "." {
		return decimal.Zero, ErrInvalidBid
	}
	amount, err := decimal.NewFromString(s)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, ErrInvalidBid
	}
	return amount, nil
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
