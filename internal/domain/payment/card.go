package payment

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pkgtravel/service-booking/pkg/domain"
)

// CardBrand is the card network inferred from the card number.
type CardBrand string

const (
	BrandVisa       CardBrand = "Visa"
	BrandMastercard CardBrand = "Mastercard"
	BrandAmex       CardBrand = "American Express"
	BrandDiscover   CardBrand = "Discover"
	BrandUnknown    CardBrand = "Unknown"
)

var brandPatterns = []struct {
	brand   CardBrand
	pattern *regexp.Regexp
}{
	{BrandVisa, regexp.MustCompile(`^4`)},
	{BrandMastercard, regexp.MustCompile(`^5[1-5]`)},
	{BrandAmex, regexp.MustCompile(`^3[47]`)},
	{BrandDiscover, regexp.MustCompile(`^6(?:011|5)`)},
}

// DetectCardBrand infers the brand from the leading digits.
func DetectCardBrand(number string) CardBrand {
	number = digitsOnly(number)
	for _, bp := range brandPatterns {
		if bp.pattern.MatchString(number) {
			return bp.brand
		}
	}
	return BrandUnknown
}

// CardDetails is raw card data. It is passed to the gateway and never persisted.
type CardDetails struct {
	Number      string
	CVV         string
	HolderName  string
	ExpiryMonth string
	ExpiryYear  string
}

// Validate checks the shape of the card fields.
func (c CardDetails) Validate() error {
	n := digitsOnly(c.Number)
	if len(n) < 12 || len(n) > 19 || !isDigits(n) {
		return domain.NewValidationError("card number is invalid")
	}
	if len(c.CVV) < 3 || len(c.CVV) > 4 || !isDigits(c.CVV) {
		return domain.NewValidationError("card cvv is invalid")
	}
	if len(c.ExpiryMonth) != 2 || !isDigits(c.ExpiryMonth) || c.ExpiryMonth < "01" || c.ExpiryMonth > "12" {
		return domain.NewValidationError("card expiry month is invalid")
	}
	if len(c.ExpiryYear) != 4 || !isDigits(c.ExpiryYear) {
		return domain.NewValidationError("card expiry year is invalid")
	}
	if strings.TrimSpace(c.HolderName) == "" {
		return domain.NewValidationError("card holder name is required")
	}
	return nil
}

// Masked returns the storable projection of the card.
func (c CardDetails) Masked() MaskedCard {
	n := digitsOnly(c.Number)
	last4 := n
	if len(n) > 4 {
		last4 = n[len(n)-4:]
	}
	return MaskedCard{
		Brand:       DetectCardBrand(n),
		LastFour:    last4,
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
		HolderName:  strings.TrimSpace(c.HolderName),
	}
}

// MaskedCard is the only card data that is persisted.
type MaskedCard struct {
	Brand       CardBrand `json:"brand"`
	LastFour    string    `json:"last_four"`
	ExpiryMonth string    `json:"expiry_month"`
	ExpiryYear  string    `json:"expiry_year"`
	HolderName  string    `json:"holder_name"`
}

// BillingDetails is the payer's billing identity and address.
type BillingDetails struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

// Validate checks the required billing fields.
func (b BillingDetails) Validate() error {
	if strings.TrimSpace(b.FirstName) == "" || strings.TrimSpace(b.LastName) == "" {
		return domain.NewValidationError("billing first and last name are required")
	}
	if !strings.Contains(b.Email, "@") {
		return domain.NewValidationError("billing email is invalid")
	}
	if strings.TrimSpace(b.Address) == "" || strings.TrimSpace(b.City) == "" ||
		strings.TrimSpace(b.Country) == "" || strings.TrimSpace(b.PostalCode) == "" {
		return domain.NewValidationError("billing address, city, country and postal code are required")
	}
	return nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
