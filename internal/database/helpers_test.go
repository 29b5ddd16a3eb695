package database

import (
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func TestNullStringRoundTrip(t *testing.T) {
	if got := NullStringToString(StringToNullString("hello")); got != "hello" {
		t.Errorf("round trip = %q, want hello", got)
	}
	if got := NullStringToString(StringToNullString("")); got != "" {
		t.Errorf("round trip of empty string = %q, want empty", got)
	}
	if StringToNullString("").Valid {
		t.Error("expected StringToNullString(\"\") to be invalid/NULL")
	}
}

func TestNullInt64RoundTrip(t *testing.T) {
	var v int64 = 42
	got := NullInt64ToPtr(PtrToNullInt64(&v))
	if got == nil || *got != 42 {
		t.Errorf("round trip = %v, want 42", got)
	}

	if got := NullInt64ToPtr(PtrToNullInt64(nil)); got != nil {
		t.Errorf("round trip of nil = %v, want nil", got)
	}
}

func TestNullableString(t *testing.T) {
	s := "x"
	ns := nullableString(&s)
	if !ns.Valid || ns.String != "x" {
		t.Errorf("nullableString(&x) = %+v, want valid x", ns)
	}
	if nullableString(nil).Valid {
		t.Error("expected nullableString(nil) to be invalid")
	}
}

func TestNullableFloat(t *testing.T) {
	f := 3.14
	nf := nullableFloat(&f)
	if !nf.Valid || nf.Float64 != 3.14 {
		t.Errorf("nullableFloat(&3.14) = %+v, want valid 3.14", nf)
	}
	if nullableFloat(nil).Valid {
		t.Error("expected nullableFloat(nil) to be invalid")
	}
}

func TestNullableDecimal(t *testing.T) {
	d := decimal.NewFromFloat(12.5)
	if got := nullableDecimal(&d); got == nil {
		t.Error("expected non-nil for a present decimal")
	}
	if got := nullableDecimal(nil); got != nil {
		t.Errorf("nullableDecimal(nil) = %v, want nil", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pqErr := &pq.Error{Code: "23505"}
	if !isUniqueViolation(pqErr) {
		t.Error("expected pq error code 23505 to be recognized as a unique violation")
	}

	other := &pq.Error{Code: "42P01"}
	if isUniqueViolation(other) {
		t.Error("expected a non-23505 pq error to not be a unique violation")
	}

	if isUniqueViolation(sql.ErrNoRows) {
		t.Error("expected a non-pq error to not be a unique violation")
	}
}
