// Package instrument handles prediction-market instrument ids: formatting,
// parsing and validation of the PM-{CATEGORY}-{NNNN} grammar, plus the
// category catalogue used by the synthetic feed.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Supported market categories.
const (
	CategoryPolitics   = "POLITICS"
	CategoryCrypto     = "CRYPTO"
	CategorySports     = "SPORTS"
	CategoryEconomics  = "ECONOMICS"
	CategoryTechnology = "TECHNOLOGY"
	CategoryCulture    = "CULTURE"

	// CategoryUnknown groups ids that do not follow the grammar.
	CategoryUnknown = "UNKNOWN"
)

// Categories lists the supported categories in catalogue order.
var Categories = []string{
	CategoryPolitics,
	CategoryCrypto,
	CategorySports,
	CategoryEconomics,
	CategoryTechnology,
	CategoryCulture,
}

var validCategories = map[string]bool{
	CategoryPolitics:   true,
	CategoryCrypto:     true,
	CategorySports:     true,
	CategoryEconomics:  true,
	CategoryTechnology: true,
	CategoryCulture:    true,
}

// idRegex matches: PM-{CATEGORY}-{NNNN}
// Example: PM-CRYPTO-0042
var idRegex = regexp.MustCompile(`^PM-([A-Z]+)-(\d{4,})$`)

var (
	ErrInvalidID       = errors.New("instrument: invalid id format")
	ErrInvalidCategory = errors.New("instrument: unsupported category")
)

// Instrument is a parsed instrument id.
type Instrument struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Number   int    `json:"number"`
}

// Format builds the id for the n-th market of a category.
func Format(category string, n int) (string, error) {
	category = strings.ToUpper(category)
	if !validCategories[category] {
		return "", fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative sequence %d", ErrInvalidID, n)
	}
	return fmt.Sprintf("PM-%s-%04d", category, n), nil
}

// Parse parses and validates an instrument id.
func Parse(id string) (*Instrument, error) {
	m := idRegex.FindStringSubmatch(id)
	if m == nil {
		return nil, fmt.Errorf("%w: %s (expected PM-{CATEGORY}-{NNNN})", ErrInvalidID, id)
	}
	if !validCategories[m[1]] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, m[1])
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, id)
	}
	return &Instrument{ID: id, Category: m[1], Number: n}, nil
}

// CategoryOf returns the category of id, or CategoryUnknown when the id
// does not parse. The engine treats ids as opaque, so this never fails.
func CategoryOf(id string) string {
	inst, err := Parse(id)
	if err != nil {
		return CategoryUnknown
	}
	return inst.Category
}

// Questions holds sample market questions per category for generated feeds.
var Questions = map[string][]string{
	CategoryPolitics: {
		"Will the incumbent win the next presidential election?",
		"Will the Senate pass the budget bill this quarter?",
		"Will voter turnout exceed 60%?",
	},
	CategoryCrypto: {
		"Will BTC exceed $120K by March 2026?",
		"Will ETH flip BTC market cap in 2026?",
		"Will a major exchange collapse in Q1?",
	},
	CategorySports: {
		"Will Lakers win the NBA championship?",
		"Will Messi score 30+ goals this season?",
		"Will the Super Bowl go to overtime?",
	},
	CategoryEconomics: {
		"Will Fed cut rates in Q1 2026?",
		"Will US GDP grow above 3% in Q1?",
		"Will unemployment fall below 3.5%?",
	},
	CategoryTechnology: {
		"Will GPT-5 launch before July 2026?",
		"Will Apple release AR glasses in 2026?",
		"Will an AI pass the Turing test publicly?",
	},
	CategoryCulture: {
		"Will TikTok be banned in the US?",
		"Will a movie break $3B box office?",
		"Will a celebrity run for president?",
	},
}
