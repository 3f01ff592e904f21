// Package parser turns fetched listing and detail pages into notebook records.
package parser

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-scrape-notebooks/models"
)

// ErrMalformedPrice marks a detail page whose price cannot be parsed.
var ErrMalformedPrice = errors.New("malformed price")

// MaxPrice is the exclusive upper bound of the NUMERIC(10,2) price column.
const MaxPrice = 1e8

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// ValidateNotebook ensures the record can be persisted.
func ValidateNotebook(n *models.Notebook) error {
	if n == nil {
		return fmt.Errorf("notebook is nil")
	}
	if strings.TrimSpace(n.URL) == "" {
		return fmt.Errorf("notebook missing url")
	}
	if math.IsNaN(n.Price) || math.IsInf(n.Price, 0) {
		return fmt.Errorf("notebook %s has non-numeric price", n.URL)
	}
	if n.Price < 0 {
		return fmt.Errorf("notebook %s has negative price", n.URL)
	}
	if n.Price >= MaxPrice {
		return fmt.Errorf("notebook %s price %.2f out of range", n.URL, n.Price)
	}
	return nil
}

// DigitsOnly drops every character that is not an ASCII digit.
func DigitsOnly(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParsePrice converts a displayed price such as "1 234,50 р." into a number.
// Only plain non-negative decimals below MaxPrice are accepted.
func ParsePrice(text string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	cleaned = strings.ReplaceAll(cleaned, "р.", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformedPrice)
	}

	if !decimalPattern.MatchString(cleaned) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, text)
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, text)
	}
	if price >= MaxPrice {
		return 0, fmt.Errorf("%w: out of range %q", ErrMalformedPrice, text)
	}
	return price, nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// stripQuery removes the query string and fragment from a link.
func stripQuery(link string) string {
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	return link
}

// resolve turns ref into an absolute URL against base. Unparseable refs are
// returned unchanged.
func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
