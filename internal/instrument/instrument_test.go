package instrument

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	inst, err := Parse("PM-CRYPTO-0042")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Category != CategoryCrypto {
		t.Errorf("expected category=CRYPTO, got %s", inst.Category)
	}
	if inst.Number != 42 {
		t.Errorf("expected number=42, got %d", inst.Number)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"INVALID",
		"PM-CRYPTO",
		"PM-CRYPTO-42",       // fewer than four digits
		"PM-crypto-0042",     // lower case
		"XX-CRYPTO-0042",     // wrong prefix
		"PM-CRYPTO-0042-EXT", // trailing segment
		"market_0001",
	}
	for _, id := range tests {
		if _, err := Parse(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID for %q, got %v", id, err)
		}
	}
}

func TestParse_InvalidCategory(t *testing.T) {
	if _, err := Parse("PM-WEATHER-0001"); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	for i, c := range Categories {
		id, err := Format(c, i*1000+7)
		if err != nil {
			t.Fatalf("format %s: %v", c, err)
		}
		inst, err := Parse(id)
		if err != nil {
			t.Fatalf("parse %s: %v", id, err)
		}
		if inst.Category != c || inst.Number != i*1000+7 {
			t.Errorf("round trip mismatch for %s: %+v", id, inst)
		}
	}
}

func TestFormat_Errors(t *testing.T) {
	if _, err := Format("weather", 1); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}
	if _, err := Format(CategorySports, -1); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	if id, err := Format("sports", 3); err != nil || id != "PM-SPORTS-0003" {
		t.Errorf("expected case-insensitive category, got %q %v", id, err)
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf("PM-POLITICS-0001"); got != CategoryPolitics {
		t.Errorf("expected POLITICS, got %s", got)
	}
	if got := CategoryOf("market_0001"); got != CategoryUnknown {
		t.Errorf("expected UNKNOWN, got %s", got)
	}
}

func TestQuestions_EveryCategory(t *testing.T) {
	for _, c := range Categories {
		if len(Questions[c]) == 0 {
			t.Errorf("category %s has no questions", c)
		}
	}
}
