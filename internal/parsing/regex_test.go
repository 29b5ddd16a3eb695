package parsing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"receipt-pipeline/server/internal/models"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tashkent")
	if err != nil {
		return time.UTC
	}
	return loc
}

func TestParseRegex_HumoDialect(t *testing.T) {
	tz := mustLoc(t)
	text := "➖ 150 000.00 UZS\nОплата\n💳 HUMOCARD **6905\n📍 KORZINKA MARKET\n🕓 14:32 29.07.26"

	got, err := ParseRegex(text, tz)
	if err != nil {
		t.Fatalf("ParseRegex returned error: %v", err)
	}
	if got.ParsingMethod != models.MethodRegexHumo {
		t.Errorf("ParsingMethod = %v, want %v", got.ParsingMethod, models.MethodRegexHumo)
	}
	if got.TransactionType != models.TransactionDebit {
		t.Errorf("TransactionType = %v, want debit", got.TransactionType)
	}
	if !got.Amount.Equal(decimal.NewFromFloat(150000.00)) {
		t.Errorf("Amount = %v, want 150000.00", got.Amount)
	}
	if got.CardLast4 != "6905" {
		t.Errorf("CardLast4 = %q, want 6905", got.CardLast4)
	}
	if got.OperatorRaw != "KORZINKA MARKET" {
		t.Errorf("OperatorRaw = %q, want KORZINKA MARKET", got.OperatorRaw)
	}
}

func TestParseRegex_HumoCredit(t *testing.T) {
	tz := mustLoc(t)
	text := "➕ 50.00 USD\nПополнение\n💳 HUMOCARD **1111\n📍 TRANSFER\n🕓 09:00 01.01.26"

	got, err := ParseRegex(text, tz)
	if err != nil {
		t.Fatalf("ParseRegex returned error: %v", err)
	}
	if got.TransactionType != models.TransactionCredit {
		t.Errorf("TransactionType = %v, want credit", got.TransactionType)
	}
	if got.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", got.Currency)
	}
}

func TestParseRegex_SMSInline(t *testing.T) {
	tz := mustLoc(t)
	text := "Pokupka: OQSOY SUPERMARKET, 29.07.26 10:15 summa:75000.50 UZS karta***4321 balans:1200000 UZS"

	got, err := ParseRegex(text, tz)
	if err != nil {
		t.Fatalf("ParseRegex returned error: %v", err)
	}
	if got.ParsingMethod != models.MethodRegexSMS {
		t.Errorf("ParsingMethod = %v, want %v", got.ParsingMethod, models.MethodRegexSMS)
	}
	if got.CardLast4 != "4321" {
		t.Errorf("CardLast4 = %q, want 4321", got.CardLast4)
	}
	if got.OperatorRaw != "OQSOY SUPERMARKET" {
		t.Errorf("OperatorRaw = %q, want OQSOY SUPERMARKET", got.OperatorRaw)
	}
}

func TestParseRegex_SemicolonFormat(t *testing.T) {
	tz := mustLoc(t)
	text := "HUMOCARD *2222: oplata 99000 UZS; YANDEX TAXI; 26-07-29 18:45; Dostupno: 500000 UZS"

	got, err := ParseRegex(text, tz)
	if err != nil {
		t.Fatalf("ParseRegex returned error: %v", err)
	}
	if got.ParsingMethod != models.MethodRegexSemicolon {
		t.Errorf("ParsingMethod = %v, want %v", got.ParsingMethod, models.MethodRegexSemicolon)
	}
	if got.CardLast4 != "2222" {
		t.Errorf("CardLast4 = %q, want 2222", got.CardLast4)
	}
	if got.TransactionType != models.TransactionDebit {
		t.Errorf("TransactionType = %v, want debit", got.TransactionType)
	}
}

func TestParseRegex_CardXabar(t *testing.T) {
	tz := mustLoc(t)
	text := "CardXabar\n🔴 ➖ 20 000 UZS\n💳 860000******7890\n📍 CHOPAR PIZZA\n🕓 12:00 29.07.26"

	got, err := ParseRegex(text, tz)
	if err != nil {
		t.Fatalf("ParseRegex returned error: %v", err)
	}
	if got.ParsingMethod != models.MethodRegexCardxabar {
		t.Errorf("ParsingMethod = %v, want %v", got.ParsingMethod, models.MethodRegexCardxabar)
	}
	if got.CardLast4 != "7890" {
		t.Errorf("CardLast4 = %q, want 7890", got.CardLast4)
	}
}

func TestParseRegex_NoDialectMatches(t *testing.T) {
	tz := mustLoc(t)
	if _, err := ParseRegex("just some unrelated chat message", tz); err == nil {
		t.Error("expected ParseRegex to fail on non-receipt text")
	}
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain integer", "150000", "150000"},
		{"single dot is decimal point", "150.000", "150"},
		{"comma decimal", "150,50", "150.5"},
		{"dot thousands comma decimal", "1.500.000,75", "1500000.75"},
		{"spaced thousands", "150 000.00", "150000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAmount(tt.in)
			if err != nil {
				t.Fatalf("NormalizeAmount(%q) error: %v", tt.in, err)
			}
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("NormalizeAmount(%q) = %s, want %s", tt.in, got.String(), want.String())
			}
		})
	}
}

func TestNormalizeAmount_Empty(t *testing.T) {
	if _, err := NormalizeAmount("   "); err == nil {
		t.Error("expected error for empty amount")
	}
}

func TestExtractCardLast4(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"479091**6905", "6905"},
		{"860000******7890", "7890"},
		{"****1234", "1234"},
		{"no digits here", ""},
	}

	for _, tt := range tests {
		got := ExtractCardLast4(tt.in)
		if got != tt.want {
			t.Errorf("ExtractCardLast4(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
