package parsing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFingerprint_SameWithinMinute(t *testing.T) {
	amount := decimal.NewFromFloat(125000.50)
	base := time.Date(2026, 7, 29, 14, 32, 10, 0, time.UTC)
	later := base.Add(40 * time.Second)

	fp1 := Fingerprint(amount, base, "6905")
	fp2 := Fingerprint(amount, later, "6905")

	if fp1 != fp2 {
		t.Errorf("fingerprints within the same minute diverged: %s != %s", fp1, fp2)
	}
}

func TestFingerprint_DifferentMinuteDiffers(t *testing.T) {
	amount := decimal.NewFromFloat(125000.50)
	t1 := time.Date(2026, 7, 29, 14, 32, 0, 0, time.UTC)
	t2 := time.Date(2026, 7, 29, 14, 33, 0, 0, time.UTC)

	if Fingerprint(amount, t1, "6905") == Fingerprint(amount, t2, "6905") {
		t.Error("expected different minutes to produce different fingerprints")
	}
}

func TestFingerprint_SignIgnored(t *testing.T) {
	when := time.Date(2026, 7, 29, 14, 32, 0, 0, time.UTC)
	positive := Fingerprint(decimal.NewFromFloat(500), when, "1234")
	negative := Fingerprint(decimal.NewFromFloat(-500), when, "1234")

	if positive != negative {
		t.Error("expected fingerprint to ignore amount sign (debit vs credit of the same amount)")
	}
}

func TestFingerprint_DifferentCardDiffers(t *testing.T) {
	amount := decimal.NewFromFloat(500)
	when := time.Date(2026, 7, 29, 14, 32, 0, 0, time.UTC)

	if Fingerprint(amount, when, "1234") == Fingerprint(amount, when, "5678") {
		t.Error("expected different card last-4 to produce different fingerprints")
	}
}
