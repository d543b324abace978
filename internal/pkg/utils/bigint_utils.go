package utils

import (
	"fmt"
	"math/big"
	"regexp"

	"vaultsync/internal/domain/entity"

	"github.com/shopspring/decimal"
)

// Plain decimal notation only: no sign, no exponent, no whitespace.
var plainDecimalPattern = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)

// ParseAmount validates the syntax of a human-entered amount before the token precision is known.
// It fails with entity.ErrInvalidAmount for anything that is not a plain non-negative decimal.
func ParseAmount(amount string) (decimal.Decimal, error) {
	if !plainDecimalPattern.MatchString(amount) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a non-negative decimal number", entity.ErrInvalidAmount, amount)
	}
	if amount[0] == '.' {
		amount = "0" + amount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", entity.ErrInvalidAmount, amount, err)
	}
	return d, nil
}

// ToBaseUnits converts a human decimal string to integer base units at the given precision.
// Example: amount="1.5", decimals=18 => 1500000000000000000
// Values that cannot be represented exactly are rejected rather than truncated.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more precision than %d decimals", entity.ErrInvalidAmount, amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ToDisplayUnits converts integer base units to the minimal exact decimal string.
// Example: amount=1234500000000000000, decimals=18 => "1.2345"
func ToDisplayUnits(amount *big.Int, decimals uint8) (string, error) {
	if amount == nil {
		return "0", nil
	}
	if amount.Sign() < 0 {
		return "", fmt.Errorf("negative base amount %s", amount.String())
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String(), nil
}

// ShortAddress renders 0x1234...abcd for notifications.
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
