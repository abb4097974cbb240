package cardgen

import (
	"fmt"
	"strings"
)

// Brand identifies a card brand inferred from the PAN prefix.
type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandDiscover   Brand = "discover"
	BrandUnknown    Brand = "unknown"
)

// ValidatePAN checks length, digits-only and the Luhn check digit.
// Accepted lengths are 12..19 digits.
func ValidatePAN(pan string) error {
	if pan == "" {
		return fmt.Errorf("pan is required")
	}
	if !IsDigits(pan) {
		return fmt.Errorf("pan must contain digits only")
	}
	if l := len(pan); l < 12 || l > 19 {
		return fmt.Errorf("pan length must be 12..19 digits (got %d)", l)
	}

	body := pan[:len(pan)-1]
	cd := luhnCheckDigit(body)
	if pan[len(pan)-1] != cd[0] {
		return fmt.Errorf("invalid luhn check digit")
	}
	return nil
}

func luhnCheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	cd := (10 - (sum % 10)) % 10
	return string('0' + byte(cd))
}

// BrandOf infers the card brand from the PAN prefix. The ranges cover the
// common networks only; anything else is BrandUnknown.
func BrandOf(pan string) Brand {
	p := NormalizePAN(pan)
	switch {
	case hasPrefixIn(p, "34", "37"):
		return BrandAmex
	case hasPrefixIn(p, "4"):
		return BrandVisa
	case hasPrefixRange(p, 2, 51, 55) || hasPrefixRange(p, 4, 2221, 2720):
		return BrandMastercard
	case hasPrefixIn(p, "6011", "65"):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

// CVVWidth returns the expected CVV length for a brand (4 for Amex, 3 otherwise).
func CVVWidth(b Brand) int {
	if b == BrandAmex {
		return 4
	}
	return 3
}

func hasPrefixIn(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func hasPrefixRange(s string, width, lo, hi int) bool {
	if len(s) < width || !IsDigits(s[:width]) {
		return false
	}
	v := 0
	for i := 0; i < width; i++ {
		v = v*10 + int(s[i]-'0')
	}
	return v >= lo && v <= hi
}

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// LastN / MaskPAN are shared by the ledger snapshot and API responses.
func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func MaskPAN(pan string) string {
	cleaned := NormalizePAN(pan)
	n := len(cleaned)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	if n < 10 {
		return strings.Repeat("*", n-4) + cleaned[n-4:]
	}
	return cleaned[:6] + strings.Repeat("*", n-10) + cleaned[n-4:]
}

// NormalizePAN strips spaces, tabs and dashes.
func NormalizePAN(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}
