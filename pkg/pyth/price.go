package pyth

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Value converts the mantissa/exponent pair into an exact decimal.
func (p Price) Value() (decimal.Decimal, error) {
	return scaled(p.Price, p.Expo)
}

// Confidence converts the confidence mantissa with the price exponent.
func (p Price) Confidence() (decimal.Decimal, error) {
	if p.Conf == "" {
		return decimal.Zero, nil
	}
	return scaled(p.Conf, p.Expo)
}

// PublishedAt returns the publish time in UTC.
func (p Price) PublishedAt() time.Time {
	return time.Unix(p.PublishTime, 0).UTC()
}

func scaled(mantissa string, expo int32) (decimal.Decimal, error) {
	m, err := decimal.NewFromString(mantissa)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse mantissa %q: %w", mantissa, err)
	}
	if !m.IsInteger() {
		return decimal.Zero, fmt.Errorf("mantissa %q is not an integer", mantissa)
	}
	return m.Shift(expo), nil
}
